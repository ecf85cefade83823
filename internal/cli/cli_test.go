package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI отвечает заранее заданными телами и запоминает запросы.
type fakeAPI struct {
	t        *testing.T
	requests []*http.Request
	bodies   []map[string]any
}

func (f *fakeAPI) server(routes map[string]func(w http.ResponseWriter)) *httptest.Server {
	mux := http.NewServeMux()
	for pattern, write := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			if r.Body != nil && r.ContentLength != 0 {
				_ = json.NewDecoder(r.Body).Decode(&body)
			}
			f.requests = append(f.requests, r)
			f.bodies = append(f.bodies, body)
			w.Header().Set("Content-Type", "application/json")
			write(w)
		})
	}
	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)
	return srv
}

func writeJSON(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const executionJSON = `{"data":{"id":"abc","tenant":"main","namespace":"company.team","flow_id":"daily",
"state":{"current":"RUNNING","history":[{"state":"CREATED","date":"2026-03-02T09:00:00Z"},{"state":"RUNNING","date":"2026-03-02T09:00:00Z"}]},
"trigger":{"type":"manual"},"finished":false,"created_at":"2026-03-02T09:00:00Z"}}`

func TestClient_ListFlows(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"GET /api/v1/flows": writeJSON(http.StatusOK, `{"data":[{"key":"main/company.team/daily","revision":3,"disabled":false,
"triggers":[{"id":"morning","type":"schedule","cron":"0 9 * * *"}]}],"total":1}`),
	})

	flows, err := NewClient(srv.URL).ListFlows(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "main/company.team/daily", flows[0].Key)
	assert.Equal(t, 3, flows[0].Revision)
	assert.Equal(t, "0 9 * * *", flows[0].Triggers[0].Cron)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "main", f.requests[0].URL.Query().Get("tenant"))
}

func TestClient_Submit(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"POST /api/v1/flows/main/company.team/daily/executions": writeJSON(http.StatusCreated, executionJSON),
	})

	exec, err := NewClient(srv.URL).Submit(context.Background(), "main/company.team/daily", SubmitRequest{
		Inputs:    map[string]any{"env": "staging"},
		CreatedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", exec.ID)
	assert.Equal(t, "RUNNING", exec.State.Current)
	require.Len(t, exec.State.History, 2)

	require.Len(t, f.bodies, 1)
	assert.Equal(t, "alice", f.bodies[0]["created_by"])
	assert.Equal(t, map[string]any{"env": "staging"}, f.bodies[0]["inputs"])
}

func TestClient_ErrorResponse(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"GET /api/v1/executions/{id}": writeJSON(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"execution not found"}}`),
		"POST /api/v1/executions/{id}/state": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})
	client := NewClient(srv.URL)

	_, err := client.GetExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND: execution not found", err.Error())

	_, err = client.SetState(context.Background(), "abc", "SUCCESS", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{"env=prod", "query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"env": "prod", "query": "a=b"}, inputs)

	inputs, err = parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, inputs)

	_, err = parseInputs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"=x"})
	assert.Error(t, err)
}

// runCmd выполняет команду и возвращает stdout и stderr.
func runCmd(t *testing.T, srvURL string, jsonMode bool, newCmd func(func() *Client, func() *Output) *cobra.Command, args ...string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newCmd(
		func() *Client { return NewClient(srvURL) },
		func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) },
	)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return stdout.String(), stderr.String()
}

func TestFlowCmd_Concurrency(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"GET /api/v1/flows/main/company.team/daily/concurrency": writeJSON(http.StatusOK, `{"data":{"flow_key":"main/company.team/daily",
"max_concurrent":0,"current_count":2,"overflow_policy":"QUEUE"}}`),
	})

	stdout, _ := runCmd(t, srv.URL, false, NewFlowCmd, "concurrency", "main/company.team/daily")
	assert.Contains(t, stdout, "RUNNING")
	assert.Contains(t, stdout, "unlimited")
	assert.Contains(t, stdout, "QUEUE")
}

func TestExecutionCmd_Submit(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"POST /api/v1/flows/main/company.team/daily/executions": writeJSON(http.StatusCreated, executionJSON),
	})

	stdout, stderr := runCmd(t, srv.URL, false, NewExecutionCmd,
		"submit", "main/company.team/daily", "--input", "env=prod", "--created-by", "bob")

	assert.Contains(t, stderr, "Execution created: abc (RUNNING)")
	assert.Contains(t, stdout, "main/company.team/daily")
	require.Len(t, f.bodies, 1)
	assert.Equal(t, "bob", f.bodies[0]["created_by"])
}

func TestExecutionCmd_ShowJSON(t *testing.T) {
	f := &fakeAPI{t: t}
	srv := f.server(map[string]func(http.ResponseWriter){
		"GET /api/v1/executions/{id}": writeJSON(http.StatusOK, executionJSON),
	})

	stdout, _ := runCmd(t, srv.URL, true, NewExecutionCmd, "show", "abc")

	var exec ExecutionResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &exec))
	assert.Equal(t, "abc", exec.ID)
	assert.Equal(t, "daily", exec.FlowID)
}
