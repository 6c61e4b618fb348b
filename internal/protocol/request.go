package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mcoot/creditshop-go/internal/model"
)

// Kind is the closed set of requests a client can make
type Kind int

const (
	KindLogin Kind = iota + 1
	KindGetItems
	KindGetInventory
	KindGetCredits
	KindBuy
	KindSell
	KindWager
	KindLogout
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindGetItems:
		return "get_items"
	case KindGetInventory:
		return "get_inventory"
	case KindGetCredits:
		return "get_credits"
	case KindBuy:
		return "buy"
	case KindSell:
		return "sell"
	case KindWager:
		return "wager"
	case KindLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Request field names
const (
	FieldLogin    = "login"
	FieldGet      = "get"
	FieldBuy      = "buy"
	FieldSell     = "sell"
	FieldGame     = "game"
	FieldLogout   = "logout"
	FieldPlayerID = "player_id"
)

// Values of the get field
const (
	GetItems     = "items"
	GetInventory = "inventory"
	GetCredits   = "credits"
)

// ErrMalformed is returned for frames that are not a usable request
var ErrMalformed = errors.New("malformed request")

// Request is a decoded client message. Only the fields for Kind are set.
type Request struct {
	Kind Kind

	Nickname string
	ItemID   model.ItemID
	Bet      int64

	// PlayerID is the id the client claims to act for, when it sent one
	PlayerID    model.PlayerID
	HasPlayerID bool
}

// DecodeRequest parses a frame payload. When several request fields are
// present the first of login, get, buy, sell, game, logout wins.
func DecodeRequest(payload []byte) (Request, error) {
	if !gjson.ValidBytes(payload) {
		return Request{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Request{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var req Request
	if v := root.Get(FieldPlayerID); v.Exists() {
		id, ok := intValue(v)
		if !ok {
			return Request{}, fmt.Errorf("%w: bad %s", ErrMalformed, FieldPlayerID)
		}
		req.PlayerID = model.PlayerID(id)
		req.HasPlayerID = true
	}

	switch {
	case root.Get(FieldLogin).Exists():
		v := root.Get(FieldLogin)
		if v.Type != gjson.String {
			return Request{}, fmt.Errorf("%w: %s must be a string", ErrMalformed, FieldLogin)
		}
		req.Kind = KindLogin
		req.Nickname = v.Str

	case root.Get(FieldGet).Exists():
		switch root.Get(FieldGet).String() {
		case GetItems:
			req.Kind = KindGetItems
		case GetInventory:
			req.Kind = KindGetInventory
		case GetCredits:
			req.Kind = KindGetCredits
		default:
			return Request{}, fmt.Errorf("%w: unknown %s target", ErrMalformed, FieldGet)
		}

	case root.Get(FieldBuy).Exists(), root.Get(FieldSell).Exists():
		field, kind := FieldBuy, KindBuy
		if !root.Get(FieldBuy).Exists() {
			field, kind = FieldSell, KindSell
		}
		id, ok := intValue(root.Get(field))
		if !ok {
			return Request{}, fmt.Errorf("%w: bad %s item id", ErrMalformed, field)
		}
		req.Kind = kind
		req.ItemID = model.ItemID(id)

	case root.Get(FieldGame).Exists():
		bet, ok := intValue(root.Get(FieldGame))
		if !ok {
			return Request{}, fmt.Errorf("%w: bad bet", ErrMalformed)
		}
		req.Kind = KindWager
		req.Bet = bet

	case root.Get(FieldLogout).Exists():
		req.Kind = KindLogout

	default:
		return Request{}, fmt.Errorf("%w: no request field", ErrMalformed)
	}
	return req, nil
}

// intValue accepts an integral JSON number or a string holding one
func intValue(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > 1<<53 {
			return 0, false
		}
		return int64(v.Num), true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
