// Package nodeclient is the JSON-RPC 2.0 over websocket client used to talk
// to the live Substrate node (§6 Wire). It owns the transport; decoding of
// whatever comes back from state_getMetadata / state_getStorageAt is the
// responsibility of internal/decode, which wraps the SCALE codec library.
//
// The method surface covers chain_getBlockHash, chain_getBlock,
// chain_getRuntimeVersion, state_getMetadata, and state_getStorageAt, over
// a github.com/gorilla/websocket transport.
package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/harvesterrors"
)

// Client is a minimal synchronous JSON-RPC 2.0 client: one request in
// flight at a time, matching the harvester's single-threaded supervisor
// (§5). Reconnection is the caller's responsibility (§4.1 reconnect policy);
// Client exposes Dial/Close so the supervisor can cycle it.
type Client struct {
	url    string
	logger log.Logger

	conn   *websocket.Conn
	nextID int64
}

func New(url string, logger log.Logger) *Client {
	return &Client{url: url, logger: logger}
}

func (c *Client) Dial(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return harvesterrors.WrapTransient("dial "+c.url, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Call performs one synchronous JSON-RPC round trip and unmarshals the
// result into out (pass a pointer, or nil to discard the result).
func (c *Client) Call(method string, params []interface{}, out interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("nodeclient: %w: not connected", harvesterrors.ErrTransientConnection)
	}
	id := atomic.AddInt64(&c.nextID, 1)
	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	if err := c.conn.WriteJSON(req); err != nil {
		return harvesterrors.WrapTransient("write "+method, err)
	}

	var resp response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return harvesterrors.WrapTransient("read "+method, err)
	}
	if resp.Error != nil {
		return harvesterrors.WrapTransient(method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// --- Typed helpers for the fixed subset of methods the harvester needs. ---

func (c *Client) ChainGetFinalizedHead() (string, error) {
	var hash string
	err := c.Call("chain_getFinalizedHead", nil, &hash)
	return hash, err
}

func (c *Client) ChainGetHead() (string, error) {
	var hash string
	err := c.Call("chain_getHead", nil, &hash)
	return hash, err
}

func (c *Client) ChainGetBlockHash(number uint64) (string, error) {
	var hash string
	err := c.Call("chain_getBlockHash", []interface{}{number}, &hash)
	return hash, err
}

// RawBlock mirrors the `result.block` shape of chain_getBlock.
type RawBlock struct {
	Block struct {
		Header struct {
			ParentHash     string `json:"parentHash"`
			Number         string `json:"number"`
			StateRoot      string `json:"stateRoot"`
			ExtrinsicsRoot string `json:"extrinsicsRoot"`
			Digest         struct {
				Logs []string `json:"logs"`
			} `json:"digest"`
		} `json:"header"`
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

func (c *Client) ChainGetBlock(blockHash string) (RawBlock, error) {
	var b RawBlock
	err := c.Call("chain_getBlock", []interface{}{blockHash}, &b)
	return b, err
}

// RuntimeVersion mirrors state_getRuntimeVersion / chain_getRuntimeVersion.
type RuntimeVersion struct {
	SpecName           string   `json:"specName"`
	ImplName           string   `json:"implName"`
	AuthoringVersion   uint32   `json:"authoringVersion"`
	SpecVersion        uint32   `json:"specVersion"`
	ImplVersion        uint32   `json:"implVersion"`
	TransactionVersion uint32   `json:"transactionVersion"`
	APIs               [][2]any `json:"apis"`
}

func (c *Client) ChainGetRuntimeVersion(blockHash string) (RuntimeVersion, error) {
	var rv RuntimeVersion
	err := c.Call("chain_getRuntimeVersion", []interface{}{blockHash}, &rv)
	return rv, err
}

func (c *Client) StateGetMetadata(blockHash string) (string, error) {
	var hexBlob string
	err := c.Call("state_getMetadata", []interface{}{blockHash}, &hexBlob)
	return hexBlob, err
}

// StateGetStorageAt returns the raw hex value (or "" if the key is absent).
func (c *Client) StateGetStorageAt(storageKeyHex, blockHash string) (string, error) {
	var value *string
	err := c.Call("state_getStorageAt", []interface{}{storageKeyHex, blockHash}, &value)
	if err != nil || value == nil {
		return "", err
	}
	return *value, nil
}

// StateGetKeysPaged implements the paged prefix enumeration used by the
// storage-task worker (§4.8): cursor begins at the prefix itself.
func (c *Client) StateGetKeysPaged(prefixHex string, count int, cursorHex, blockHash string) ([]string, error) {
	var keys []string
	err := c.Call("state_getKeysPaged", []interface{}{prefixHex, count, cursorHex, blockHash}, &keys)
	return keys, err
}

func (c *Client) SystemChain() (string, error) {
	var chain string
	err := c.Call("system_chain", nil, &chain)
	return chain, err
}

func (c *Client) SystemName() (string, error) {
	var name string
	err := c.Call("system_name", nil, &name)
	return name, err
}

func (c *Client) SystemProperties() (json.RawMessage, error) {
	var props json.RawMessage
	err := c.Call("system_properties", nil, &props)
	return props, err
}
