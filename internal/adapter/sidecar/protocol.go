package sidecar

import (
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one newline-delimited IPC frame from a worker. IDs are chosen
// by the client and only need to be unique per connection.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one request. Responses are written as requests
// finish, so they arrive in any order; clients correlate by ID.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("sidecar error %d: %s", e.Code, e.Message)
}

// Error codes follow the JSON-RPC convention workers already speak upstream.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUpstream       = -32000
	CodeRateLimited    = -32029
)

// IPC method names.
const (
	MethodPing                    = "ping"
	MethodGetHealthStatus         = "getHealthStatus"
	MethodGetAccountInfo          = "getAccountInfo"
	MethodGetMultipleAccounts     = "getMultipleAccounts"
	MethodGetTransaction          = "getTransaction"
	MethodGetLatestBlockhash      = "getLatestBlockhash"
	MethodGetBalance              = "getBalance"
	MethodGetTokenAccountBalance  = "getTokenAccountBalance"
	MethodGetTokenAccountsByOwner = "getTokenAccountsByOwner"
	MethodGetSlot                 = "getSlot"
	MethodSendRawTransaction      = "sendRawTransaction"
	MethodConfirmTransaction      = "confirmTransaction"
)

// Parameter shapes for the IPC methods.
type accountParams struct {
	Pubkey     string `json:"pubkey"`
	Commitment string `json:"commitment,omitempty"`
}

type multipleAccountsParams struct {
	Pubkeys    []string `json:"pubkeys"`
	Commitment string   `json:"commitment,omitempty"`
}

type transactionParams struct {
	Signature string `json:"signature"`
}

type commitmentParams struct {
	Commitment string `json:"commitment,omitempty"`
}

type tokenBalanceParams struct {
	Pubkey string `json:"pubkey"`
}

type tokenOwnerParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type sendTransactionParams struct {
	Transaction   string `json:"transaction"`
	SkipPreflight bool   `json:"skipPreflight,omitempty"`
	MaxRetries    *int   `json:"maxRetries,omitempty"`
	Commitment    string `json:"commitment,omitempty"`
}

type confirmParams struct {
	Signature  string `json:"signature"`
	Commitment string `json:"commitment,omitempty"`
}

type confirmResult struct {
	Confirmed bool `json:"confirmed"`
}

type pongResult struct {
	Pong      bool  `json:"pong"`
	Timestamp int64 `json:"timestamp"`
}

// Websocket control surface. Clients drive subscriptions with commands and
// receive channel-tagged events back.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

type WsCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

type WsReply struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	ReplySubscribed   = "subscribed"
	ReplyUnsubscribed = "unsubscribed"
	ReplyPong         = "pong"
	ReplyError        = "error"
)

// WsEvent is one fanned-out notification. Data is the upstream payload
// verbatim: a chain notification result or a bus envelope.
type WsEvent struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

const EventTypeNotification = "event"

// Channel families on the websocket surface. Chain channels bridge the
// upstream pubsub supervisor, bus channels bridge the shared event bus.
const (
	ChannelAccount = "account"
	ChannelLogs    = "logs"
	ChannelProgram = "program"
	ChannelEvents  = "events"
	ChannelWorkers = "workers"
)

// Channel is a parsed channel name such as "account:<pubkey>" or
// "events:dex-comparison".
type Channel struct {
	Kind string
	Arg  string
}

func (c Channel) String() string {
	if c.Arg == "" {
		return c.Kind
	}
	return c.Kind + ":" + c.Arg
}

// IsBusBridge reports whether the channel relays bus subjects rather than
// chain subscriptions.
func (c Channel) IsBusBridge() bool {
	return c.Kind == ChannelEvents || c.Kind == ChannelWorkers
}

// Subject maps a bus-bridge channel to its bus subject. Channel names use
// colons where subjects use dots, e.g. "events:dex-comparison" publishes as
// "events.dex-comparison".
func (c Channel) Subject() string {
	return strings.ReplaceAll(c.String(), ":", ".")
}

// ParseChannel validates a channel name from a client.
func ParseChannel(name string) (Channel, error) {
	kind, arg, found := strings.Cut(name, ":")
	if !found || arg == "" {
		return Channel{}, fmt.Errorf("malformed channel %q: want kind:argument", name)
	}

	switch kind {
	case ChannelAccount, ChannelProgram:
		if strings.ContainsAny(arg, " :") {
			return Channel{}, fmt.Errorf("malformed %s channel: bad pubkey %q", kind, arg)
		}
	case ChannelLogs, ChannelEvents, ChannelWorkers:
		// logs filters and bus topics are free-form
	default:
		return Channel{}, fmt.Errorf("unknown channel kind %q", kind)
	}
	return Channel{Kind: kind, Arg: arg}, nil
}
