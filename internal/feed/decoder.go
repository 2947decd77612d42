// Package feed implements the live market feed: the binary packet decoder
// and the websocket subscription manager.
package feed

import (
	"encoding/binary"
	"math"
	"strconv"

	"paper-trader/internal/models"
)

// HeaderSize is the fixed packet header: code, length, segment, security id.
const HeaderSize = 8

// Payload sizes after the header for each known response code.
var payloadSizes = map[models.PacketType]int{
	models.PacketTicker:     8,
	models.PacketQuote:      42,
	models.PacketOI:         4,
	models.PacketPrevClose:  8,
	models.PacketFull:       154,
	models.PacketDisconnect: 2,
}

// PayloadSize returns the known payload size for a response code, or 0.
func PayloadSize(t models.PacketType) int {
	return payloadSizes[t]
}

type fieldKind int

const (
	kindF32 fieldKind = iota
	kindI32
	kindI16
)

type fieldSpec struct {
	field  models.Field
	offset int // from packet start
	kind   fieldKind
}

var layouts = map[models.PacketType][]fieldSpec{
	models.PacketTicker: {
		{models.FieldLTP, 8, kindF32},
		{models.FieldLastTradeTime, 12, kindI32},
	},
	models.PacketQuote: {
		{models.FieldLTP, 8, kindF32},
		{models.FieldLastTradeTime, 14, kindI32},
		{models.FieldAvgPrice, 18, kindF32},
		{models.FieldVolume, 22, kindI32},
		{models.FieldOpen, 34, kindF32},
		{models.FieldClose, 38, kindF32},
		{models.FieldHigh, 42, kindF32},
		{models.FieldLow, 46, kindF32},
	},
	models.PacketPrevClose: {
		{models.FieldPrevClose, 8, kindF32},
		{models.FieldOpenInterest, 12, kindI32},
	},
	models.PacketOI: {
		{models.FieldOpenInterest, 8, kindI32},
	},
	models.PacketFull: {
		{models.FieldLTP, 8, kindF32},
		{models.FieldLastTradeTime, 14, kindI32},
		{models.FieldAvgPrice, 18, kindF32},
		{models.FieldVolume, 22, kindI32},
		{models.FieldOpenInterest, 34, kindI32},
		{models.FieldOpen, 46, kindF32},
		{models.FieldClose, 50, kindF32},
		{models.FieldHigh, 54, kindF32},
		{models.FieldLow, 58, kindF32},
	},
	models.PacketDisconnect: {
		{models.FieldDisconnectReason, 8, kindI16},
	},
}

func (k fieldKind) size() int {
	if k == kindI16 {
		return 2
	}
	return 4
}

// Decode parses a binary frame holding zero or more packets. It never
// fails: a short or corrupt frame yields fewer or partial updates, and an
// incomplete trailing header is dropped.
func Decode(buf []byte) []models.PriceUpdate {
	var updates []models.PriceUpdate

	offset := 0
	for offset+HeaderSize <= len(buf) {
		pkt := buf[offset:]
		code := models.PacketType(pkt[0])
		declared := int(int16(binary.LittleEndian.Uint16(pkt[1:3])))
		segCode := pkt[3]

		update := models.PriceUpdate{
			Type:        code,
			SegmentCode: segCode,
			Segment:     models.SegmentFromCode(segCode),
			SecurityID:  strconv.FormatUint(uint64(binary.LittleEndian.Uint32(pkt[4:8])), 10),
		}
		decodeFields(&update, pkt, layouts[code])
		updates = append(updates, update)

		if declared < 0 {
			declared = 0
		}
		step := PayloadSize(code)
		if declared > step {
			step = declared
		}
		offset += HeaderSize + step
	}

	return updates
}

func decodeFields(u *models.PriceUpdate, pkt []byte, specs []fieldSpec) {
	for _, spec := range specs {
		end := spec.offset + spec.kind.size()
		if end > len(pkt) {
			continue
		}
		raw := pkt[spec.offset:end]

		var f float64
		var i int64
		switch spec.kind {
		case kindF32:
			f = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
		case kindI32:
			i = int64(int32(binary.LittleEndian.Uint32(raw)))
		case kindI16:
			i = int64(int16(binary.LittleEndian.Uint16(raw)))
		}

		switch spec.field {
		case models.FieldLTP:
			u.LTP = f
		case models.FieldLastTradeTime:
			u.LastTradeTime = i
		case models.FieldAvgPrice:
			u.AvgPrice = f
		case models.FieldVolume:
			u.Volume = i
		case models.FieldOpen:
			u.Open = f
		case models.FieldHigh:
			u.High = f
		case models.FieldLow:
			u.Low = f
		case models.FieldClose:
			u.Close = f
		case models.FieldPrevClose:
			u.PrevClose = f
		case models.FieldOpenInterest:
			u.OpenInterest = i
		case models.FieldDisconnectReason:
			u.DisconnectReason = int16(i)
		}
		u.Fields |= spec.field
	}
}
