package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firefly-go/internal/config"
	"github.com/tonimelisma/firefly-go/internal/credfile"
	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

var testSetDate = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fixtureTask(id task.ID, title string, due time.Time) *task.Task {
	setEvent := task.NewStatusEvent(task.EventSetTask, "Ms Smith", testSetDate)
	setEvent.GUID = "set-" + id.String()

	return &task.Task{
		ID:      id,
		Title:   title,
		Setter:  task.Person{Name: "Ms Smith", GUID: "T1"},
		SetDate: testSetDate,
		DueDate: due,
		Events:  []task.Event{setEvent},
	}
}

// fakePortal serves the task endpoints from an in-memory task set. Posted
// status events are appended to the stored task, as the real portal does.
// Messages, bookmarks and personal tasks go through a GraphQL handler that
// matches on the operation name.
type fakePortal struct {
	mu        stdsync.Mutex
	tasks     map[task.ID]*task.Task
	posts     int
	messages  []fakeMessage
	bookmarks []fakeBookmark
	files     map[string]string // URL path -> content
	created   []string          // SetPersonalTask queries
}

type fakeMessage struct {
	ID            int64       `json:"id"`
	From          task.Person `json:"from"`
	AllRecipients string      `json:"all_recipients"`
	Sent          string      `json:"sent"`
	Read          bool        `json:"read"`
	Archived      bool        `json:"archived"`
	Body          string      `json:"body"`
}

type fakeBookmark struct {
	GUID      string      `json:"guid"`
	Title     string      `json:"title"`
	Type      string      `json:"type"`
	SimpleURL string      `json:"simple_url"`
	Created   string      `json:"created"`
	From      task.Person `json:"from"`
}

// firstPersonalTaskID is the ID the portal gives the first created task.
const firstPersonalTaskID = 1000

var (
	graphqlIDs   = regexp.MustCompile(`ids: \[([^\]]*)\]`)
	graphqlTitle = regexp.MustCompile(`new_title: ("(?:[^"\\]|\\.)*")`)
)

func writeGraphQL(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (p *fakePortal) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	q := r.FormValue("data")

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(q, "GetMessages"):
		writeGraphQL(w, map[string]any{"users": []any{map[string]any{"messages": p.messages}}})
	case strings.Contains(q, "GetBookmarks"):
		writeGraphQL(w, map[string]any{"users": []any{map[string]any{"bookmarks": p.bookmarks}}})
	case strings.Contains(q, "SetMessagesReadStatus"), strings.Contains(q, "SetMessagesArchivedStatus"):
		m := graphqlIDs.FindStringSubmatch(q)
		if m == nil {
			http.Error(w, "no ids", http.StatusBadRequest)
			return
		}

		value := strings.Contains(q, ": true")

		for _, raw := range strings.Split(m[1], ", ") {
			id, _ := strconv.ParseInt(raw, 10, 64)

			for i := range p.messages {
				if p.messages[i].ID != id {
					continue
				}

				if strings.Contains(q, "new_read") {
					p.messages[i].Read = value
				} else {
					p.messages[i].Archived = value
				}
			}
		}

		writeGraphQL(w, map[string]any{"result": true})
	case strings.Contains(q, "SetPersonalTask"):
		var title string
		if m := graphqlTitle.FindStringSubmatch(q); m != nil {
			_ = json.Unmarshal([]byte(m[1]), &title)
		}

		id := task.ID(firstPersonalTaskID + len(p.created))
		p.created = append(p.created, q)
		p.tasks[id] = fixtureTask(id, title, testSetDate.AddDate(0, 0, 7))

		writeGraphQL(w, map[string]any{"result": []any{map[string]any{"id": id}}})
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
	}
}

func (p *fakePortal) serveFile(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	body, ok := p.files[r.URL.Path]
	p.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	_, _ = w.Write([]byte(body))
}

func newFakePortal(t *testing.T, tasks ...*task.Task) (*fakePortal, *httptest.Server) {
	t.Helper()

	p := &fakePortal{tasks: make(map[task.ID]*task.Task), files: make(map[string]string)}
	for _, tk := range tasks {
		p.tasks[tk.ID] = tk
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/api/verifytoken", func(w http.ResponseWriter, r *http.Request) {
		valid := r.URL.Query().Get("ffauth_secret") == "s3cret"
		_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
	})
	mux.HandleFunc("/login/api/sso", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<sso><user name="Ada Student" username="ada" identifier="S1"/></sso>`))
	})
	mux.HandleFunc("/api/v2/apps/tasks/ids/filterby", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		ids := make([]task.ID, 0, len(p.tasks))
		for id := range p.tasks {
			ids = append(ids, id)
		}

		_ = json.NewEncoder(w).Encode(ids)
	})
	mux.HandleFunc("/api/v2/apps/tasks/byIds", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []task.ID `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		out := make([]*task.Task, 0, len(req.IDs))
		for _, id := range req.IDs {
			if tk, ok := p.tasks[id]; ok {
				out = append(out, tk)
			}
		}

		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /_api/1.0/tasks/{id}/responses", func(w http.ResponseWriter, r *http.Request) {
		id, err := task.ParseID(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var post struct {
			Event struct {
				Type string `json:"type"`
			} `json:"event"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("data")), &post); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		p.posts++
		ev := task.NewStatusEvent(task.EventType(post.Event.Type), "Ada Student", testSetDate.Add(time.Hour))
		ev.GUID = "srv-" + id.String()
		p.tasks[id] = p.tasks[id].WithEvent(ev)
	})

	mux.HandleFunc("POST /_api/1.0/graphql", p.serveGraphQL)
	mux.HandleFunc("GET /_api/1.0/tasks/{id}/attachments/{resource}", p.serveFile)
	mux.HandleFunc("GET /_api/1.0/tasks/responses/{event}/latest/files/{resource}", p.serveFile)
	mux.HandleFunc("GET /profilepic.aspx", p.serveFile)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return p, srv
}

// isolateDirs points every platform directory at a temp dir.
func isolateDirs(t *testing.T) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("XDG isolation is linux-only")
	}

	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvSchool, "")
}

func saveTestCredentials(t *testing.T, hostname string) {
	t.Helper()

	require.NoError(t, credfile.Save(config.CredentialsPath(), &credfile.File{
		DeviceID: "dev-1",
		Secret:   "s3cret",
		Hostname: hostname,
		User:     firefly.User{Name: "Ada Student", Username: "ada", GUID: "S1"},
	}))
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"-q"}, args...))

	err := cmd.Execute()

	return out.String(), err
}

func listTasks(t *testing.T, args ...string) []taskListing {
	t.Helper()

	out, err := runCLI(t, append([]string{"ls", "--json"}, args...)...)
	require.NoError(t, err)

	var listings []taskListing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))

	return listings
}

func TestCLI_SyncListAndMarkDone(t *testing.T) {
	isolateDirs(t)

	portal, srv := newFakePortal(t,
		fixtureTask(1, "Essay", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)),
		fixtureTask(2, "Worksheet", time.Time{}),
	)
	saveTestCredentials(t, srv.URL)

	assert.Empty(t, listTasks(t), "nothing cached before the first sync")

	_, err := runCLI(t, "sync")
	require.NoError(t, err)

	listings := listTasks(t)
	require.Len(t, listings, 2)
	assert.Equal(t, task.ID(1), listings[0].ID, "dated tasks sort before undated ones")
	assert.Equal(t, labelTodo, listings[0].Status)
	assert.Nil(t, listings[1].DueDate)

	out, err := runCLI(t, "--json", "done", "1")
	require.NoError(t, err)

	var res mutationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "confirmed", res.State)
	assert.Equal(t, 1, portal.posts)

	done := listTasks(t, "--progress", "done")
	require.Len(t, done, 1)
	assert.Equal(t, task.ID(1), done[0].ID)

	// Already done: the pre-check finds it, nothing is posted again.
	_, err = runCLI(t, "done", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, portal.posts)
}

func TestCLI_MutationOnUncachedTask(t *testing.T) {
	isolateDirs(t)

	_, srv := newFakePortal(t)
	saveTestCredentials(t, srv.URL)

	_, err := runCLI(t, "archive", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the local cache")
}

func TestCLI_NotLoggedIn(t *testing.T) {
	isolateDirs(t)

	_, err := runCLI(t, "ls")
	require.ErrorIs(t, err, errNotLoggedIn)
}

func TestCLI_LogoutClearsCredentialsAndCache(t *testing.T) {
	isolateDirs(t)

	_, srv := newFakePortal(t, fixtureTask(1, "Essay", time.Time{}))
	saveTestCredentials(t, srv.URL)

	_, err := runCLI(t, "sync")
	require.NoError(t, err)

	_, err = runCLI(t, "logout")
	require.NoError(t, err)

	creds, err := credfile.Load(config.CredentialsPath())
	require.NoError(t, err)
	assert.Nil(t, creds)

	saveTestCredentials(t, srv.URL)
	assert.Empty(t, listTasks(t), "logout must drop the cached tasks")
}

func TestCLI_ResetForcesFullFetch(t *testing.T) {
	isolateDirs(t)

	_, srv := newFakePortal(t, fixtureTask(1, "Essay", time.Time{}))
	saveTestCredentials(t, srv.URL)

	_, err := runCLI(t, "sync")
	require.NoError(t, err)
	require.Len(t, listTasks(t), 1)

	_, err = runCLI(t, "reset")
	require.NoError(t, err)
	assert.Empty(t, listTasks(t))

	assert.Len(t, listTasks(t, "--sync"), 1)
}

func TestCLI_CompleteLogin(t *testing.T) {
	isolateDirs(t)

	_, srv := newFakePortal(t)
	cc := testCLIContext(t)

	acct := config.AccountConfig{SchoolCode: "demo", Hostname: srv.URL, DeviceID: "dev-1"}

	creds, err := completeLogin(t.Context(), cc, acct, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "S1", creds.User.GUID)

	saved, err := credfile.Load(cc.CredentialsPath)
	require.NoError(t, err)
	assert.Equal(t, creds, saved)

	_, err = completeLogin(t.Context(), cc, acct, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestCLI_ConfigShow(t *testing.T) {
	isolateDirs(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.SaveAccount(path, config.AccountConfig{SchoolCode: "demo"}))

	out, err := runCLI(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, `school_code      = "demo"`)

	out, err = runCLI(t, "--config", path, "--school", "other", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `school_code      = "other"`)
}
