package instrument

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMappingBuildsReverseIndex(t *testing.T) {
	m, err := NewMapping([]Pair{
		{Bond: "sz128002", Stock: "sz000001"},
		{Bond: "sz128001", Stock: "sz000001"},
		{Bond: "sh110001", Stock: "sh600001"},
	})
	require.NoError(t, err)

	// 保持输入顺序
	assert.Equal(t, []string{"sz128002", "sz128001"}, m.BondsOf("sz000001"))
	assert.Equal(t, []string{"sh110001"}, m.BondsOf("sh600001"))
	assert.Empty(t, m.BondsOf("unknown"))

	stock, ok := m.StockOf("sz128002")
	assert.True(t, ok)
	assert.Equal(t, "sz000001", stock)

	assert.True(t, m.IsStock("sh600001"))
	assert.False(t, m.IsStock("sh110001"))
	assert.True(t, m.IsBond("sh110001"))
	assert.Equal(t, []string{"sh600001", "sz000001", "sh110001", "sz128001", "sz128002"}, m.Codes())
}

func TestBondsOfReturnsCopy(t *testing.T) {
	m, err := NewMapping([]Pair{{Bond: "b1", Stock: "s1"}, {Bond: "b2", Stock: "s1"}})
	require.NoError(t, err)
	bonds := m.BondsOf("s1")
	bonds[0] = "mutated"
	assert.Equal(t, []string{"b1", "b2"}, m.BondsOf("s1"))
}

func TestNewMappingRejectsInvalid(t *testing.T) {
	_, err := NewMapping(nil)
	assert.Error(t, err)

	_, err = NewMapping([]Pair{{Bond: "b1", Stock: ""}})
	assert.Error(t, err)

	_, err = NewMapping([]Pair{{Bond: "b1", Stock: "s1"}, {Bond: "s1", Stock: "s2"}})
	assert.Error(t, err)

	_, err = NewMapping([]Pair{{Bond: "b1", Stock: "s1"}, {Bond: "b1", Stock: "s2"}})
	assert.Error(t, err)
}

func TestLoadMappingKeepsFileOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "select.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sz123009":"sz300001","sz123002":"sz300001"}`), 0o644))

	m, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sz123009", "sz123002"}, m.BondsOf("sz300001"))

	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o644))
	_, err = LoadMapping(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"b1": 3}`), 0o644))
	_, err = LoadMapping(path)
	assert.Error(t, err)

	_, err = LoadMapping(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
