package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const (
	jsonRPCVersion = "2.0"

	// rpcPath is appended to the relay endpoint.
	rpcPath = "/json-rpc"

	maxResponseSize = 64 << 20

	methodConsignmentPost = "consignment.post"
	methodConsignmentGet  = "consignment.get"
	methodMediaPost       = "media.post"
	methodMediaGet        = "media.get"
)

// errTransport marks failures reaching the relay, as opposed to errors the
// relay answered with.
var errTransport = errors.New("relay unreachable")

// RPCError is an error answered by the relay.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type consigParams struct {
	RecipientID string `json:"recipient_id"`
	Txid        string `json:"txid,omitempty"`
}

type consigResult struct {
	Consignment string `json:"consignment"`
	Txid        string `json:"txid"`
}

type mediaParams struct {
	AttachmentID string `json:"attachment_id"`
}

// file is an attachment of a request.
type file struct {
	name string
	data []byte
}

// encodeRequest writes a JSON-RPC request as a multipart form, the way the
// relay expects uploads.
func encodeRequest(method, id string, params any,
	f *file) (*bytes.Buffer, string, error) {

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, "", err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := []struct{ k, v string }{
		{"method", method},
		{"jsonrpc", jsonRPCVersion},
		{"id", id},
		{"params", string(rawParams)},
	}
	for _, field := range fields {
		if err := w.WriteField(field.k, field.v); err != nil {
			return nil, "", err
		}
	}

	if f != nil {
		part, err := w.CreateFormFile("file", f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &body, w.FormDataContentType(), nil
}

// call sends one request. Transport failures wrap errTransport, relay errors
// are returned as *RPCError.
func (c *Courier) call(ctx context.Context, method, id string, params any,
	f *file, result any) error {

	body, contentType, err := encodeRequest(method, id, params, f)
	if err != nil {
		return err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.endpoint+rpcPath, body,
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errTransport, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("%w: status %d", errTransport,
				resp.StatusCode)
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errTransport, err)
		}

		return raw, nil
	})
	if err != nil {
		return err
	}

	var envelope rpcResponse
	if err := json.Unmarshal(res.([]byte), &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("%w: %s result: %v", ErrParse, method, err)
	}

	return nil
}
