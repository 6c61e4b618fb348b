package protocol

import (
	"encoding/json"

	"github.com/mcoot/creditshop-go/internal/model"
)

// NoticeShutdown is pushed to connected clients before the server closes them
const NoticeShutdown = "shutdown"

// ItemView is an item as sent to clients
type ItemView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description,omitempty"`
}

// PlayerResponse answers a successful login
type PlayerResponse struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Credits  int64  `json:"credits"`
}

// ItemsResponse answers get items
type ItemsResponse struct {
	Items []ItemView `json:"items"`
}

// InventoryResponse answers get inventory
type InventoryResponse struct {
	Items   []ItemView `json:"items"`
	Credits int64      `json:"credits"`
}

// CreditsResponse answers get credits
type CreditsResponse struct {
	Credits int64 `json:"credits"`
}

// StatusResponse answers buy, sell and game, and any request that failed.
// Credits carries the new balance after a settled buy, sell or bet.
type StatusResponse struct {
	Status  model.Status `json:"status"`
	Credits *int64       `json:"credits,omitempty"`
}

// NoticeResponse is an unsolicited server message
type NoticeResponse struct {
	Notice string `json:"notice"`
}

// Failed is the generic failure answer
func Failed() StatusResponse {
	return StatusResponse{Status: model.StatusFailed}
}

// Settled reports the outcome of a balance-changing request
func Settled(status model.Status, credits int64) StatusResponse {
	return StatusResponse{Status: status, Credits: &credits}
}

// NewPlayerResponse projects a player for the wire
func NewPlayerResponse(p *model.Player) PlayerResponse {
	return PlayerResponse{ID: int64(p.ID), Nickname: p.Nickname, Credits: p.Credits}
}

// ItemViews projects items for the wire. The result is never nil so empty
// listings encode as [].
func ItemViews(items []model.Item) []ItemView {
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{
			ID:          int64(item.ID),
			Name:        item.Name,
			Price:       item.Price,
			Description: item.Description,
		})
	}
	return views
}

// Encode marshals a response or request body
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Message is a request as built by clients
type Message map[string]any

// LoginMessage asks to log in as nickname
func LoginMessage(nickname string) Message {
	return Message{FieldLogin: nickname}
}

// GetMessage asks for a listing; what is GetItems, GetInventory or GetCredits
func GetMessage(what string, playerID int64) Message {
	return Message{FieldGet: what, FieldPlayerID: playerID}
}

// BuyMessage asks to buy an item
func BuyMessage(itemID, playerID int64) Message {
	return Message{FieldBuy: itemID, FieldPlayerID: playerID}
}

// SellMessage asks to sell an item
func SellMessage(itemID, playerID int64) Message {
	return Message{FieldSell: itemID, FieldPlayerID: playerID}
}

// WagerMessage places a bet
func WagerMessage(bet, playerID int64) Message {
	return Message{FieldGame: bet, FieldPlayerID: playerID}
}

// LogoutMessage ends the session
func LogoutMessage() Message {
	return Message{FieldLogout: "1"}
}
