package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Paper Trader Configuration

[account]
# Opening balance of the paper account in INR
initial_capital = 500000.0

# Lot size overrides by symbol fragment, e.g. NIFTY = 75
[account.lot_sizes]

[broker]
base_url = "https://api.dhan.co/v2"
timeout = "15s"

[feed]
url = "wss://api-feed.dhan.co"
# Reconnect attempts after an abnormal close
max_retries = 5
# Backoff doubles from base_delay up to max_delay
base_delay = "2s"
max_delay = "30s"
# Instruments per subscription request (max 100)
batch_size = 100
# Packet mode: ticker, quote, full
mode = "quote"

[settlement]
# Settlement does not run before this IST hour
cutoff_hour = 6
# How often to check whether settlement is due (cron, with seconds)
schedule = "0 */5 * * * *"

[square_off]
# Close open MIS positions automatically
enabled = true
schedule = "@every 30s"
# NSE/BSE window, IST
equity_at = "15:15"
equity_until = "16:00"
# MCX, IST
commodity_at = "23:15"

[store]
# SQLite database; defaults to paper.db in the config directory
# path = ""
snapshot_key = "paper-trading-storage"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
`

const credentialsTemplate = `# Paper Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[dhan]
client_id = ""
access_token = ""
`

func createTemplate(path, content string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing template %s: %w", path, err)
	}
	return nil
}
