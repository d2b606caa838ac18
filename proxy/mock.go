package proxy

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

const codeNotFound = -400

type mockEntry struct {
	data []byte
	txid string
}

// MockRelay is an in-memory relay speaking the JSON-RPC upload protocol.
// Consignments can be fetched by recipient id or by receipt id, the
// blake3 key of the recipient.
type MockRelay struct {
	mu sync.Mutex

	consigs map[string]mockEntry
	media   map[string][]byte

	failures int
	requests int
}

var _ http.Handler = (*MockRelay)(nil)

// NewMockRelay creates an empty relay.
func NewMockRelay() *MockRelay {
	return &MockRelay{
		consigs: make(map[string]mockEntry),
		media:   make(map[string][]byte),
	}
}

// FailNext makes the next n requests fail with a 503.
func (m *MockRelay) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = n
}

// Requests returns the number of requests served, failed ones included.
func (m *MockRelay) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.requests
}

func writeRPC(w http.ResponseWriter, id string, result any, rpcErr *RPCError) {
	resp := struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      string    `json:"id"`
		Result  any       `json:"result,omitempty"`
		Error   *RPCError `json:"error,omitempty"`
	}{JSONRPC: jsonRPCVersion, ID: id, Result: result, Error: rpcErr}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func readUpload(r *http.Request) ([]byte, error) {
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// ServeHTTP implements http.Handler.
func (m *MockRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	if m.failures > 0 {
		m.failures--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	if r.URL.Path != rpcPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseMultipartForm(maxResponseSize); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.FormValue("id")
	method := r.FormValue("method")
	rawParams := []byte(r.FormValue("params"))
	invalid := &RPCError{Code: -32602, Message: "invalid params"}
	notFound := &RPCError{Code: codeNotFound, Message: "not found"}

	switch method {
	case methodConsignmentPost:
		var p consigParams
		data, err := readUpload(r)
		if err != nil || json.Unmarshal(rawParams, &p) != nil ||
			p.RecipientID == "" {

			writeRPC(w, id, nil, invalid)
			return
		}

		entry := mockEntry{data: data, txid: p.Txid}
		m.consigs[p.RecipientID] = entry
		m.consigs[RecipientKey(p.RecipientID)] = entry
		writeRPC(w, id, true, nil)

	case methodConsignmentGet:
		var p consigParams
		if json.Unmarshal(rawParams, &p) != nil {
			writeRPC(w, id, nil, invalid)
			return
		}

		entry, ok := m.consigs[p.RecipientID]
		if !ok {
			writeRPC(w, id, nil, notFound)
			return
		}
		writeRPC(w, id, consigResult{
			Consignment: base64.StdEncoding.EncodeToString(entry.data),
			Txid:        entry.txid,
		}, nil)

	case methodMediaPost:
		var p mediaParams
		data, err := readUpload(r)
		if err != nil || json.Unmarshal(rawParams, &p) != nil ||
			p.AttachmentID == "" {

			writeRPC(w, id, nil, invalid)
			return
		}

		m.media[p.AttachmentID] = data
		writeRPC(w, id, true, nil)

	case methodMediaGet:
		var p mediaParams
		if json.Unmarshal(rawParams, &p) != nil {
			writeRPC(w, id, nil, invalid)
			return
		}

		data, ok := m.media[p.AttachmentID]
		if !ok {
			writeRPC(w, id, nil, notFound)
			return
		}
		writeRPC(w, id, base64.StdEncoding.EncodeToString(data), nil)

	default:
		writeRPC(w, id, nil, &RPCError{
			Code: -32601, Message: "method not found",
		})
	}
}
