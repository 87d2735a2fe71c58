package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

type hashAddressFixture struct {
	ID      int64           `meddler:"id,pk"`
	Hash    common.Hash     `meddler:"h,hash"`
	HashPtr *common.Hash    `meddler:"hp,hash"`
	Addr    common.Address  `meddler:"a,address"`
	AddrPtr *common.Address `meddler:"ap,address"`
}

func openFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meddler.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE fixtures (id INTEGER PRIMARY KEY, h TEXT NOT NULL, hp TEXT, a TEXT NOT NULL, ap TEXT)`)
	require.NoError(t, err)
	return db
}

func TestHashAndAddressMeddlerRoundTripNonNull(t *testing.T) {
	db := openFixtureDB(t)
	defer db.Close()

	h := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	a := common.HexToAddress("0x0000000000000000000000000000000000000a")
	in := &hashAddressFixture{Hash: h, HashPtr: &h, Addr: a, AddrPtr: &a}

	require.NoError(t, meddler.Insert(db, "fixtures", in))

	var out hashAddressFixture
	require.NoError(t, meddler.QueryRow(db, &out, `SELECT * FROM fixtures WHERE id = ?`, in.ID))

	require.Equal(t, h, out.Hash)
	require.NotNil(t, out.HashPtr)
	require.Equal(t, h, *out.HashPtr)
	require.Equal(t, a, out.Addr)
	require.NotNil(t, out.AddrPtr)
	require.Equal(t, a, *out.AddrPtr)
}

func TestHashAndAddressMeddlerRoundTripNullablePointers(t *testing.T) {
	db := openFixtureDB(t)
	defer db.Close()

	h := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	a := common.HexToAddress("0x0000000000000000000000000000000000000b")
	in := &hashAddressFixture{Hash: h, HashPtr: nil, Addr: a, AddrPtr: nil}

	require.NoError(t, meddler.Insert(db, "fixtures", in))

	var out hashAddressFixture
	require.NoError(t, meddler.QueryRow(db, &out, `SELECT * FROM fixtures WHERE id = ?`, in.ID))

	require.Nil(t, out.HashPtr)
	require.Nil(t, out.AddrPtr)
}
