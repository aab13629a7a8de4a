package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv runs commands against a temporary ledger with zero rent.
type cliEnv struct {
	t      *testing.T
	dir    string
	db     string
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := &cliEnv{t: t, dir: dir, db: filepath.Join(dir, "escrow.db")}
	e.config = e.writeConfig("escrow.cue", "transfer")
	return e
}

func (e *cliEnv) writeConfig(name, policy string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	src := fmt.Sprintf("database: %q\nrent: {lamports_per_byte: 0, overhead: 0}\ncomplete_policy: %q\n", e.db, policy)
	require.NoError(e.t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "escrow %s: %s", strings.Join(args, " "), out)
	return out
}

// runJSON runs a command with --format json and decodes its response.
func (e *cliEnv) runJSON(args ...string) (map[string]any, error) {
	e.t.Helper()
	out, err := e.run(append([]string{"--format", "json"}, args...)...)
	var resp map[string]any
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	return resp, err
}

func (e *cliEnv) keygen(name string) (path, identity string) {
	e.t.Helper()
	path = filepath.Join(e.dir, name+".key")
	out := e.mustRun("keygen", "--out", path)
	return path, strings.TrimSpace(out)
}

func TestKeygen(t *testing.T) {
	e := newCLIEnv(t)
	path, identity := e.keygen("owner")

	assert.Len(t, identity, 64)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// balance accepts the key file or the identity.
	assert.Equal(t, "0\n", e.mustRun("balance", path))
	assert.Equal(t, "0\n", e.mustRun("balance", identity))
}

func TestFundAndBalance(t *testing.T) {
	e := newCLIEnv(t)
	path, _ := e.keygen("owner")

	out := e.mustRun("fund", path, "1000")
	assert.Contains(t, out, "seq=1 funded")
	assert.Contains(t, out, "balance 1000")

	e.mustRun("fund", path, "500")
	assert.Equal(t, "1500\n", e.mustRun("balance", path))
}

func TestFund_InvalidArgs(t *testing.T) {
	e := newCLIEnv(t)
	path, _ := e.keygen("owner")

	_, err := e.run("fund", path, "-5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run("fund", filepath.Join(e.dir, "missing.key"), "5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestJobLifecycle(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")
	workerKey, workerID := e.keygen("worker")
	e.mustRun("fund", ownerKey, "1000")

	out := e.mustRun("init-job", "--key", ownerKey, "--job-id", "7", "--metadata", "render frames", "--amount", "400")
	assert.Equal(t, "seq=2 initialize_job job=7 status=Pending\n", out)
	assert.Equal(t, "600\n", e.mustRun("balance", ownerKey))

	out = e.mustRun("start-job", "--key", workerKey, "--job-id", "7")
	assert.Equal(t, "seq=3 start_job job=7 status=Started\n", out)

	out = e.mustRun("mark-processing", "--key", workerKey, "--job-id", "7")
	assert.Equal(t, "seq=4 mark_processing job=7 status=Processing\n", out)

	resp, err := e.runJSON("complete-job", "--key", ownerKey, "--job-id", "7")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(5), data["seq"])
	assert.Equal(t, "complete_job", data["op"])
	assert.Equal(t, "Done", data["job"].(map[string]any)["status"])

	assert.Equal(t, "400\n", e.mustRun("balance", workerKey))

	resp, err = e.runJSON("show-job", "--job-id", "7")
	require.NoError(t, err)
	job := resp["data"].(map[string]any)
	assert.Equal(t, "Done", job["status"])
	assert.Equal(t, workerID, job["worker"])
	assert.Equal(t, float64(400), job["amount"])
	assert.Equal(t, float64(0), job["custody"])

	text := e.mustRun("show-job", "--job-id", "7")
	assert.Contains(t, text, "status:   Done")
	assert.Contains(t, text, `metadata: "render frames"`)
}

func TestRejectedInstructionIsJournaled(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")
	workerKey, _ := e.keygen("worker")
	e.mustRun("fund", ownerKey, "1000")
	e.mustRun("init-job", "--key", ownerKey, "--job-id", "1", "--amount", "100")

	resp, err := e.runJSON("complete-job", "--key", workerKey, "--job-id", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "UNAUTHORIZED", resp["error"].(map[string]any)["code"])

	_, err = e.run("start-job", "--key", workerKey, "--job-id", "9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp, err = e.runJSON("history")
	require.NoError(t, err)
	entries := resp["data"].([]any)
	require.Len(t, entries, 4)
	assert.Equal(t, "UNAUTHORIZED", entries[2].(map[string]any)["error"])
	assert.Equal(t, "JOB_NOT_FOUND", entries[3].(map[string]any)["error"])

	// Rejections change nothing.
	assert.Equal(t, "900\n", e.mustRun("balance", ownerKey))
}

func TestInitJob_OwnerCannotAfford(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")

	resp, err := e.runJSON("init-job", "--key", ownerKey, "--job-id", "1", "--amount", "100")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp["error"].(map[string]any)["code"])

	_, err = e.run("show-job", "--job-id", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestOpCommand_MissingKeyFile(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("start-job", "--key", filepath.Join(e.dir, "nope.key"), "--job-id", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_FilterByJob(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")
	e.mustRun("fund", ownerKey, "1000")
	e.mustRun("init-job", "--key", ownerKey, "--job-id", "1", "--amount", "100")
	e.mustRun("init-job", "--key", ownerKey, "--job-id", "2", "--amount", "100")
	e.mustRun("refund-job", "--key", ownerKey, "--job-id", "1")

	resp, err := e.runJSON("history", "--job-id", "1")
	require.NoError(t, err)
	entries := resp["data"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "initialize_job", entries[0].(map[string]any)["kind"])
	assert.Equal(t, "refund_job", entries[1].(map[string]any)["kind"])
	payload := entries[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, float64(1), payload["job_id"])

	text := e.mustRun("history")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "SEQ")
	assert.Contains(t, lines[1], "fund")
	assert.Contains(t, lines[4], "refund_job")
}

func TestHistory_Empty(t *testing.T) {
	e := newCLIEnv(t)
	assert.Equal(t, "No entries.\n", e.mustRun("history"))
}

func TestVerify(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")
	workerKey, _ := e.keygen("worker")
	e.mustRun("fund", ownerKey, "1000")
	e.mustRun("init-job", "--key", ownerKey, "--job-id", "1", "--amount", "300")
	e.mustRun("start-job", "--key", workerKey, "--job-id", "1")
	e.mustRun("complete-job", "--key", ownerKey, "--job-id", "1")
	_, err := e.run("refund-job", "--key", ownerKey, "--job-id", "1")
	require.Error(t, err)

	out := e.mustRun("verify")
	assert.Equal(t, "verified 5 entries (4 committed, 1 rejected)\n", out)

	// Under the sweep policy the completed record is closed, so the refund
	// would fail differently.
	e.config = e.writeConfig("sweep.cue", "sweep")
	resp, err := e.runJSON("verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "E_REPLAY_DIVERGED", resp["error"].(map[string]any)["code"])
}

func TestInvalidConfig(t *testing.T) {
	e := newCLIEnv(t)
	e.config = filepath.Join(e.dir, "bad.cue")
	require.NoError(t, os.WriteFile(e.config, []byte(`complete_policy: "burn"`), 0644))

	resp, err := e.runJSON("history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, resp["error"].(map[string]any)["code"])
}

func TestDBFlagOverridesConfig(t *testing.T) {
	e := newCLIEnv(t)
	ownerKey, _ := e.keygen("owner")
	other := filepath.Join(e.dir, "other.db")

	e.mustRun("--db", other, "fund", ownerKey, "10")
	assert.Equal(t, "10\n", e.mustRun("--db", other, "balance", ownerKey))
	assert.Equal(t, "0\n", e.mustRun("balance", ownerKey))
}
