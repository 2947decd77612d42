package models

// PacketType is the response code of a binary feed packet.
type PacketType uint8

const (
	PacketTicker     PacketType = 2
	PacketQuote      PacketType = 4
	PacketOI         PacketType = 5
	PacketPrevClose  PacketType = 6
	PacketFull       PacketType = 8
	PacketDisconnect PacketType = 50
)

func (t PacketType) String() string {
	switch t {
	case PacketTicker:
		return "ticker"
	case PacketQuote:
		return "quote"
	case PacketOI:
		return "oi"
	case PacketPrevClose:
		return "prev_close"
	case PacketFull:
		return "full"
	case PacketDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Field flags which optional values of a PriceUpdate were present on the wire.
type Field uint16

const (
	FieldLTP Field = 1 << iota
	FieldLastTradeTime
	FieldAvgPrice
	FieldVolume
	FieldOpen
	FieldHigh
	FieldLow
	FieldClose
	FieldPrevClose
	FieldOpenInterest
	FieldDisconnectReason
)

// PriceUpdate is one decoded feed packet.
type PriceUpdate struct {
	Type          PacketType
	SegmentCode   uint8
	Segment       Segment
	SecurityID    string
	Fields        Field
	LTP           float64
	LastTradeTime int64 // epoch seconds
	AvgPrice      float64
	Volume        int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PrevClose     float64
	OpenInterest  int64
	// DisconnectReason is the server reason code on a disconnect packet.
	DisconnectReason int16
}

// Has reports whether f was decoded.
func (u PriceUpdate) Has(f Field) bool {
	return u.Fields&f != 0
}
