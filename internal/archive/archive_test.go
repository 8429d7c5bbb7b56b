package archive

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/transactions/spend"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// testChain returns genesis and a block on it carrying one spend.
func testChain(t *testing.T) (*zerocash.Block, *zerocash.Block, *zerocash.Transaction) {
	t.Helper()
	oracle := spend.NewSimulatedOracle([]byte("archive-tests"))
	coin := zerocash.NewCoin()
	decoy := zerocash.NewCoin()
	g := zerocash.NewGenesisBlock([]zerocash.Digest{coin.Cm, decoy.Cm}, time.Now())

	proof, err := oracle.Prove(zerocash.NewSpendWitness(coin, decoy.Cm, 1))
	require.NoError(t, err)
	tx := zerocash.NewTransaction(proof, zerocash.NewCoin().Cm)

	b := zerocash.NewBlock(g, time.Now())
	require.NoError(t, b.AddCoinbase(zerocash.NewCoin().Cm))
	require.NoError(t, b.Admit(oracle, tx))
	return g, b, tx
}

func TestPostgresWriteBlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	out := NewPostgresOutputFromDB(db, zerolog.Nop())

	_, b, tx := testChain(t)
	sn, err := tx.SerialNumber()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocks")).
		WithArgs(b.ID().String(), int64(1), b.PrevBlockHash().String(), int64(b.Proof()), sqlmock.AnyArg(), 1, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(tx.ID().String(), b.ID().String(), 0, tx.Cm.String(), sn.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nullifiers")).
		WithArgs(sn.String(), b.ID().String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, out.WriteBlock(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteBlockRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	out := NewPostgresOutputFromDB(db, zerolog.Nop())
	_, b, _ := testChain(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocks")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = out.WriteBlock(context.Background(), b)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLatestBlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	out := NewPostgresOutputFromDB(db, zerolog.Nop())
	_, b, _ := testChain(t)
	data, err := b.Serialize()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM blocks")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	latest, err := out.GetLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.ID(), latest.ID())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM blocks")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	latest, err = out.GetLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)

	mock.ExpectClose()
	require.NoError(t, out.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.jsonl")
	out, err := NewFileOutput(path)
	require.NoError(t, err)

	g, b, tx := testChain(t)
	hook := Hook(context.Background(), out, time.Second, zerolog.Nop())
	hook(g)
	hook(b)
	hook(b)

	latest, err := out.GetLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.ID(), latest.ID())
	require.NoError(t, out.Close())

	blocks, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, g.ID(), blocks[0].ID())
	assert.Equal(t, b.ID(), blocks[1].ID())
	assert.True(t, blocks[1].HasTransaction(tx.ID()))
}
