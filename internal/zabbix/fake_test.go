package zabbix

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type rpcCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Auth   string          `json:"auth"`
	ID     int64           `json:"id"`
	Header http.Header     `json:"-"`
}

type rpcHandler func(call rpcCall) (any, *RPCError)

// fakeAPI is an in-process Zabbix JSON-RPC endpoint.
type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    []rpcCall
	srv      *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{handlers: make(map[string]rpcHandler)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) URL() string {
	return f.srv.URL + "/zabbix/api_jsonrpc.php"
}

func (f *fakeAPI) handle(method string, h rpcHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeAPI) last(method string) rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	return rpcCall{}
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call.Header = r.Header.Clone()

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h, ok := f.handlers[call.Method]
	f.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": call.ID}
	if !ok {
		resp["error"] = RPCError{Code: -32601, Message: "Method not found."}
	} else {
		result, rpcErr := h(call)
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func loginOK(token string) rpcHandler {
	return func(rpcCall) (any, *RPCError) { return token, nil }
}

func problems(rows ...map[string]any) rpcHandler {
	return func(rpcCall) (any, *RPCError) {
		if rows == nil {
			return []any{}, nil
		}
		return rows, nil
	}
}

func row(id, severity, name, objectID, clock string) map[string]any {
	return map[string]any{
		"eventid":  id,
		"source":   "0",
		"object":   "0",
		"objectid": objectID,
		"clock":    clock,
		"name":     name,
		"severity": severity,
	}
}
