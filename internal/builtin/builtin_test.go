package builtin

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/engine"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T) *engine.Executor {
	t.Helper()
	reg := tasktype.NewRegistry()
	require.NoError(t, Register(reg))
	return engine.New(reg, ledger.NewMemory(), engine.WithLogger(zerolog.New(zerolog.NewTestWriter(t))))
}

func task(name, typ string, params map[string]string) *domain.Task {
	t := &domain.Task{Name: name, Type: typ, Parameters: map[string]domain.ParamValue{}}
	for k, v := range params {
		t.Parameters[k] = domain.Literal(v)
	}
	return t
}

func batchOf(tasks ...*domain.Task) (*domain.Configuration, *domain.Batch) {
	cfg := &domain.Configuration{Name: "test", Tasks: tasks}
	b := &domain.Batch{Name: "b", Configuration: "test"}
	for i, t := range tasks {
		b.Elements = append(b.Elements, domain.BatchElement{Task: t, Position: i + 1})
	}
	cfg.Batches = []*domain.Batch{b}
	return cfg, b
}

func runContext(typ tasktype.TaskType, t *domain.Task) (*tasktype.Context, *domain.BatchRun) {
	br := domain.NewBatchRun("br-1", &domain.Batch{Name: "b"}, time.Now())
	tc := tasktype.NewRunContext(t, typ, &domain.Configuration{}, tasktype.RunScope{
		BatchRun:   br,
		TempValues: tasktype.NewTempValues(),
	}, zerolog.Nop())
	return tc, br
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRegister(t *testing.T) {
	reg := tasktype.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{Exec, FilePromote, FileStage, SQLExec, Wait}, reg.Names())

	assert.Error(t, Register(reg), "registering twice must fail")
}

func TestFileStageAndPromote_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.json")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	cfg, b := batchOf(
		task("Stage", FileStage, map[string]string{"path": path, "content": "v2"}),
		task("Promote", FilePromote, map[string]string{"path": path}),
	)

	br, err := newExecutor(t).Execute(context.Background(), cfg, b)
	require.NoError(t, err)
	require.True(t, br.Succeeded(), br.Message())

	assert.Equal(t, "v2", readFile(t, path))
	assert.NoFileExists(t, path+".staged")
	assert.Equal(t, "replaced "+path, br.Message())
}

func TestFileStageAndPromote_RollbackRestores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.json")
	fresh := filepath.Join(dir, "fresh.json")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	cfg, b := batchOf(
		task("Stage", FileStage, map[string]string{"path": path, "content": "v2"}),
		task("Promote", FilePromote, map[string]string{"path": path}),
		task("StageFresh", FileStage, map[string]string{"path": fresh, "content": "new"}),
		task("PromoteFresh", FilePromote, map[string]string{"path": fresh}),
		task("Broken", SQLExec, map[string]string{"database": filepath.Join(dir, "w.db"), "statement": "NOT SQL"}),
	)

	br, err := newExecutor(t).Execute(context.Background(), cfg, b)
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailed, br.Status())
	for _, name := range []string{"Stage", "Promote", "StageFresh", "PromoteFresh"} {
		assert.Equal(t, domain.RunRolledBack, br.Run(name).Status, name)
	}
	assert.Equal(t, "v1", readFile(t, path))
	assert.NoFileExists(t, path+".staged")
	assert.NoFileExists(t, fresh)
}

func TestFileStage_RollbackRemovesStaged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	tc, _ := runContext(fileStage{}, task("Stage", FileStage, map[string]string{"path": path, "content": "x"}))

	res, err := fileStage{}.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.FileExists(t, path+".staged")

	staged, ok := tc.TempValues().GetString(stagedKey(path))
	require.True(t, ok)
	assert.Equal(t, path+".staged", staged)

	require.NoError(t, res.Rollback(context.Background(), tc))
	assert.NoFileExists(t, path+".staged")
	_, ok = tc.TempValues().Get(stagedKey(path))
	assert.False(t, ok)
}

func TestFileStage_Mode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	tc, _ := runContext(fileStage{}, task("Stage", FileStage, map[string]string{"path": path, "mode": "0600"}))

	_, err := fileStage{}.Run(context.Background(), tc)
	require.NoError(t, err)

	info, err := os.Stat(path + ".staged")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tc, _ = runContext(fileStage{}, task("Stage", FileStage, map[string]string{"path": path, "mode": "rwx"}))
	_, err = fileStage{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, tasktype.Message(err), "not an octal file mode")
}

func TestFilePromote_RequiresStagedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	tc, _ := runContext(filePromote{}, task("Promote", FilePromote, map[string]string{"path": path}))

	_, err := filePromote{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.Equal(t, "no staged file for "+path+" in this batch run", tasktype.Message(err))
}

func TestFileCleanup_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.json")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))
	require.NoError(t, os.WriteFile(path+".staged", []byte("v2"), 0644))

	e := newExecutor(t)
	cfg := &domain.Configuration{}
	stage := task("Stage", FileStage, map[string]string{"path": path})
	promote := task("Promote", FilePromote, map[string]string{"path": path})

	for i := 0; i < 2; i++ {
		require.NoError(t, e.Cleanup(context.Background(), cfg, stage))
		require.NoError(t, e.Cleanup(context.Background(), cfg, promote))
	}
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".staged")
}

func TestExec_Output(t *testing.T) {
	tc, _ := runContext(execType{}, task("Echo", Exec, map[string]string{"command": "echo hello batch"}))

	res, err := execType{}.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "hello batch", res.Message)
	assert.Nil(t, res.Rollback)
}

func TestExec_ExitCode(t *testing.T) {
	tc, _ := runContext(execType{}, task("False", Exec, map[string]string{"command": "false"}))

	_, err := execType{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.Equal(t, "false exited with code 1", tasktype.Message(err))
}

func TestExec_Supports(t *testing.T) {
	assert.NoError(t, execType{}.Supports(task("a", Exec, map[string]string{"command": "echo hi"})))
	assert.Error(t, execType{}.Supports(task("a", Exec, map[string]string{"command": "no-such-binary-7f3a"})))
	assert.Error(t, execType{}.Supports(task("a", Exec, map[string]string{"command": "   "})))

	ref := &domain.Task{Name: "a", Type: Exec, Parameters: map[string]domain.ParamValue{"command": domain.Reference("cmd")}}
	assert.NoError(t, execType{}.Supports(ref))
}

func TestExec_UndoOnRollback(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	cfg, b := batchOf(
		task("Touch", Exec, map[string]string{"command": "touch " + marker, "undo": "rm " + marker}),
		task("Fail", Exec, map[string]string{"command": "false"}),
	)

	br, err := newExecutor(t).Execute(context.Background(), cfg, b)
	require.NoError(t, err)

	assert.Equal(t, domain.RunRolledBack, br.Run("Touch").Status)
	assert.Equal(t, "false exited with code 1", br.Message())
	assert.NoFileExists(t, marker)
}

func TestExec_InterruptKillsCommand(t *testing.T) {
	tc, br := runContext(execType{}, task("Sleep", Exec, map[string]string{"command": "sleep 30"}))

	go func() {
		time.Sleep(200 * time.Millisecond)
		br.RequestInterrupt()
	}()

	start := time.Now()
	_, err := execType{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.ErrorIs(t, err, tasktype.ErrInterrupted)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExec_Timeout(t *testing.T) {
	tc, _ := runContext(execType{}, task("Sleep", Exec, map[string]string{"command": "sleep 30", "timeout": "100ms"}))

	_, err := execType{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.Equal(t, "sleep: timed out", tasktype.Message(err))
}

func TestSQLExec_RunUndoCleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")
	params := map[string]string{
		"database":  dbPath,
		"statement": "CREATE TABLE staging (id INTEGER)",
		"undo":      "DROP TABLE staging",
		"cleanup":   "DROP TABLE IF EXISTS staging",
	}

	tc, _ := runContext(sqlExec{}, task("CreateTable", SQLExec, params))
	res, err := sqlExec{}.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, tableExists(t, dbPath, "staging"))

	require.NoError(t, res.Rollback(context.Background(), tc))
	assert.False(t, tableExists(t, dbPath, "staging"))

	e := newExecutor(t)
	_, err = execSQL(context.Background(), dbPath, "CREATE TABLE staging (id INTEGER)")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Cleanup(context.Background(), &domain.Configuration{}, task("CreateTable", SQLExec, params)))
	}
	assert.False(t, tableExists(t, dbPath, "staging"))
}

func TestSQLExec_RowsAffected(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")
	_, err := execSQL(context.Background(), dbPath, "CREATE TABLE t (id INTEGER); INSERT INTO t VALUES (1), (2)")
	require.NoError(t, err)

	tc, _ := runContext(sqlExec{}, task("Update", SQLExec, map[string]string{
		"database":  dbPath,
		"statement": "UPDATE t SET id = id + 10",
	}))
	res, err := sqlExec{}.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "2 rows affected", res.Message)
}

func tableExists(t *testing.T, dbPath, name string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestWait_Completes(t *testing.T) {
	tc, _ := runContext(waitType{}, task("Wait", Wait, map[string]string{"duration": "20ms"}))

	res, err := waitType{}.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "waited 20ms", res.Message)
}

func TestWait_Interrupted(t *testing.T) {
	tc, br := runContext(waitType{}, task("Wait", Wait, map[string]string{"duration": "1m"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		br.RequestInterrupt()
	}()

	_, err := waitType{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.ErrorIs(t, err, tasktype.ErrInterrupted)
	assert.Equal(t, "interrupted", tasktype.Message(err))
}

func TestWait_InvalidDuration(t *testing.T) {
	tc, _ := runContext(waitType{}, task("Wait", Wait, map[string]string{"duration": "soon"}))

	_, err := waitType{}.Run(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, tasktype.Message(err), "not a duration")
}

func TestWait_InterruptedBatchRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	holding := make(chan string, 1)
	reg := tasktype.NewRegistry()
	require.NoError(t, Register(reg))
	e := engine.New(reg, ledger.NewMemory(), engine.WithRunListener(func(run *domain.Run) {
		if run.TaskName == "Hold" && run.Status == domain.RunRunning {
			holding <- run.BatchRunID
		}
	}))

	cfg, b := batchOf(
		task("Stage", FileStage, map[string]string{"path": path, "content": "x"}),
		task("Hold", Wait, map[string]string{"duration": "1m"}),
	)

	go func() {
		id := <-holding
		_ = e.RequestInterrupt(context.Background(), id)
	}()

	br, err := e.Execute(context.Background(), cfg, b)
	require.NoError(t, err)

	assert.Equal(t, domain.RunRolledBack, br.Run("Stage").Status)
	require.NotNil(t, br.Run("Hold"))
	assert.Equal(t, domain.RunFailed, br.Run("Hold").Status)
	assert.Equal(t, "interrupted", br.Run("Hold").Message)
	assert.NoFileExists(t, path+".staged")
}

func TestTruncate(t *testing.T) {
	short := "exit status 1"
	assert.Equal(t, short, truncate(short))

	// A two-byte rune straddling the limit is dropped whole
	s := strings.Repeat("a", maxMessage-1) + "é" + "tail"
	got := truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxMessage-1)+"...", got)
}
