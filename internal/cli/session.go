package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mcoot/creditshop-go/internal/protocol"
)

var (
	// ErrRequestFailed is returned when the server answers {"status":"failed"}
	ErrRequestFailed = errors.New("request failed")
	// ErrServerShutdown is returned when the server sends the shutdown notice
	ErrServerShutdown = errors.New("server is shutting down")
)

// ShopClient speaks the framed protocol over one TCP connection
type ShopClient struct {
	conn     net.Conn
	framed   *protocol.StreamConn
	timeout  time.Duration
	playerID int64
}

// DialShop connects to the protocol listener
func DialShop(addr string, timeout time.Duration) (*ShopClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &ShopClient{
		conn:    conn,
		framed:  protocol.NewStreamConn(conn, 0),
		timeout: timeout,
	}, nil
}

// Call sends one request and waits for its response
func (c *ShopClient) Call(msg protocol.Message) (gjson.Result, error) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return gjson.Result{}, err
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := c.framed.WriteFrame(data); err != nil {
		return gjson.Result{}, fmt.Errorf("send: %w", err)
	}
	frame, err := c.framed.ReadFrame()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("receive: %w", err)
	}

	resp := gjson.ParseBytes(frame)
	if resp.Get("notice").String() == protocol.NoticeShutdown {
		return resp, ErrServerShutdown
	}
	return resp, nil
}

// Login authenticates the connection. Every other call needs it first.
func (c *ShopClient) Login(nickname string) (PlayerResult, error) {
	var p PlayerResult
	resp, err := c.Call(protocol.LoginMessage(nickname))
	if err != nil {
		return p, err
	}
	if isFailed(resp) {
		return p, fmt.Errorf("login as %q: %w", nickname, ErrRequestFailed)
	}
	if err := json.Unmarshal([]byte(resp.Raw), &p); err != nil {
		return p, fmt.Errorf("failed to parse response: %w", err)
	}
	c.playerID = p.ID
	return p, nil
}

// Items lists what the player can still buy
func (c *ShopClient) Items() (ItemList, error) {
	var out ItemList
	err := c.get(protocol.GetItems, &out)
	return out, err
}

// Inventory lists owned items and the balance
func (c *ShopClient) Inventory() (InventoryResult, error) {
	var out InventoryResult
	err := c.get(protocol.GetInventory, &out)
	return out, err
}

// Credits returns the balance
func (c *ShopClient) Credits() (CreditsResult, error) {
	var out CreditsResult
	err := c.get(protocol.GetCredits, &out)
	return out, err
}

// Buy purchases an item
func (c *ShopClient) Buy(itemID int64) (StatusResult, error) {
	return c.settle(protocol.BuyMessage(itemID, c.playerID))
}

// Sell returns an item for its price
func (c *ShopClient) Sell(itemID int64) (StatusResult, error) {
	return c.settle(protocol.SellMessage(itemID, c.playerID))
}

// Bet wagers an amount. A lost bet is not an error; a rejected one is.
func (c *ShopClient) Bet(amount int64) (StatusResult, error) {
	return c.settle(protocol.WagerMessage(amount, c.playerID))
}

// Close logs out and closes the connection
func (c *ShopClient) Close() error {
	if data, err := protocol.Encode(protocol.LogoutMessage()); err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
		_ = c.framed.WriteFrame(data)
	}
	return c.conn.Close()
}

func (c *ShopClient) get(what string, out any) error {
	resp, err := c.Call(protocol.GetMessage(what, c.playerID))
	if err != nil {
		return err
	}
	if isFailed(resp) {
		return fmt.Errorf("get %s: %w", what, ErrRequestFailed)
	}
	if err := json.Unmarshal([]byte(resp.Raw), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *ShopClient) settle(msg protocol.Message) (StatusResult, error) {
	var out StatusResult
	resp, err := c.Call(msg)
	if err != nil {
		return out, err
	}
	out.Status = resp.Get("status").String()
	if credits := resp.Get("credits"); credits.Exists() {
		v := credits.Int()
		out.Credits = &v
	}
	// Settled outcomes carry the balance; bare failures were rejected
	if out.Credits == nil {
		return out, ErrRequestFailed
	}
	return out, nil
}

func isFailed(resp gjson.Result) bool {
	return resp.Get("status").String() == "failed"
}
