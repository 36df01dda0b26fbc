package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/common/testutil"
	"github.com/intellect4all/lstore/table"
)

func TestCreateTableAndGetTable(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := Open(dir, 64, nil)
	require.NoError(t, err)
	defer db.Close()

	cfg := table.Config{Name: "students", NumUserCols: 2, PrimaryKeyCol: 0, Cumulative: true}
	tbl, err := db.CreateTable(cfg)
	require.NoError(t, err)

	_, err = db.CreateTable(cfg)
	require.ErrorIs(t, err, common.ErrDuplicateKey)

	got, err := db.GetTable("students")
	require.NoError(t, err)
	require.Same(t, tbl, got)

	_, err = db.GetTable("missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCloseAndReopenPersistsTableAndData(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := Open(dir, 64, nil)
	require.NoError(t, err)

	cfg := table.Config{Name: "students", NumUserCols: 2, PrimaryKeyCol: 0, Cumulative: true, SecondaryCols: []int{1}}
	tbl, err := db.CreateTable(cfg)
	require.NoError(t, err)

	_, err = tbl.InsertRecord([]int64{1, 42})
	require.NoError(t, err)
	_, err = tbl.InsertRecord([]int64{2, 43})
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db2, err := Open(dir, 64, nil)
	require.NoError(t, err)
	defer db2.Close()

	reopened, err := db2.GetTable("students")
	require.NoError(t, err)
	require.Equal(t, 2, reopened.NumUserColumns())

	found, err := reopened.Search(42, 1)
	require.NoError(t, err)
	require.NotEmpty(t, found)

	rows, err := reopened.GetLatestColumnValues(found, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 42}, rows[0])
}

func TestPeriodicFlushRejectsSecondScheduleAndStopIsIdempotent(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := Open(dir, 64, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.StartPeriodicFlush("* * * * * *"))
	err = db.StartPeriodicFlush("* * * * * *")
	require.Error(t, err, "starting a second schedule should fail")

	cfg := table.Config{Name: "students", NumUserCols: 1, PrimaryKeyCol: 0}
	_, err = db.CreateTable(cfg)
	require.NoError(t, err)

	db.StopPeriodicFlush()
	db.StopPeriodicFlush() // idempotent
}

func TestDropTable(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := Open(dir, 64, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateTable(table.Config{Name: "students", NumUserCols: 1, PrimaryKeyCol: 0})
	require.NoError(t, err)

	require.NoError(t, db.DropTable("students"))
	_, err = db.GetTable("students")
	require.ErrorIs(t, err, common.ErrNotFound)
}
