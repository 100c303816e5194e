package serve

import (
	"testing"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabases(t *testing.T) {
	databases, err := parseDatabases("100=store, 200 = LockMgr,")
	require.NoError(t, err)
	assert.Equal(t, []common.ServerDatabase{
		{ID: 100, Type: common.DatabaseTypeStore},
		{ID: 200, Type: common.DatabaseTypeLockManager},
	}, databases)

	_, err = parseDatabases("100")
	assert.ErrorContains(t, err, "expected ID=TYPE")

	_, err = parseDatabases("abc=store")
	assert.ErrorContains(t, err, "invalid database ID")

	_, err = parseDatabases("100=kv")
	assert.ErrorContains(t, err, "invalid database type")
}
