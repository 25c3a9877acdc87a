package book

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"oes/internal/model"
)

// Field names for the order:{id} hash record.
const (
	fID        = "id"
	fAccountID = "account_id"
	fSymbol    = "symbol"
	fSide      = "side"
	fType      = "type"
	fPrice     = "price"
	fHasPrice  = "has_price"
	fOriginal  = "original"
	fRemaining = "remaining"
	fVenue     = "venue"
	fTIF       = "tif"
	fStatus    = "status"
	fCreatedAt     = "created_at"
	fUpdatedAt     = "updated_at"
	fSeq           = "seq"
	fReservationID = "reservation_id"
)

func toRecord(o *model.Order) map[string]string {
	return map[string]string{
		fID:        o.ID,
		fAccountID: o.AccountID,
		fSymbol:    o.Symbol,
		fSide:      strconv.Itoa(int(o.Side)),
		fType:      strconv.Itoa(int(o.Type)),
		fPrice:     o.Price.String(),
		fHasPrice:  strconv.FormatBool(o.HasPrice),
		fOriginal:  o.Original.String(),
		fRemaining: o.Remaining.String(),
		fVenue:     strconv.Itoa(int(o.Venue)),
		fTIF:       strconv.Itoa(int(o.TIF)),
		fStatus:    strconv.Itoa(int(o.Status)),
		fCreatedAt:     o.CreatedAt.Format(time.RFC3339Nano),
		fUpdatedAt:     o.UpdatedAt.Format(time.RFC3339Nano),
		fSeq:           strconv.FormatUint(o.Seq(), 10),
		fReservationID: o.ReservationID,
	}
}

func fromRecord(rec map[string]string) *model.Order {
	side, _ := strconv.Atoi(rec[fSide])
	typ, _ := strconv.Atoi(rec[fType])
	venue, _ := strconv.Atoi(rec[fVenue])
	tif, _ := strconv.Atoi(rec[fTIF])
	status, _ := strconv.Atoi(rec[fStatus])
	hasPrice, _ := strconv.ParseBool(rec[fHasPrice])
	seq, _ := strconv.ParseUint(rec[fSeq], 10, 64)
	price, _ := decimal.NewFromString(rec[fPrice])
	original, _ := decimal.NewFromString(rec[fOriginal])
	remaining, _ := decimal.NewFromString(rec[fRemaining])
	createdAt, _ := time.Parse(time.RFC3339Nano, rec[fCreatedAt])
	updatedAt, _ := time.Parse(time.RFC3339Nano, rec[fUpdatedAt])

	o := &model.Order{
		ID:        rec[fID],
		AccountID: rec[fAccountID],
		Symbol:    rec[fSymbol],
		Side:      model.Side(side),
		Type:      model.OrderType(typ),
		Price:     price,
		HasPrice:  hasPrice,
		Original:  original,
		Remaining: remaining,
		Venue:     model.Venue(venue),
		TIF:       model.TIF(tif),
		Status:    model.OrderStatus(status),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,

		ReservationID: rec[fReservationID],
	}
	o.SetSeq(seq)
	return o
}
