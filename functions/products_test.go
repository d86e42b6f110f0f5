package functions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalog_Search(t *testing.T) {
	c := DefaultCatalog()

	shoes := c.Search("", "shoes", 0)
	require.Len(t, shoes, 2)

	white := c.Search("white sneakers", "", 0)
	require.Len(t, white, 1)
	require.Equal(t, "Casual White Sneakers", white[0].Name)

	require.Empty(t, c.Search("tuxedo", "", 0))
	require.Len(t, c.Search("", "", 3), 3)
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.Equal(t, 8, c.Len())

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"Shoe A","url":"https://shop.test/a","category":"Shoes"}]`), 0o600))
	c, err = LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, "https://shop.test/a", c.Search("shoe", "", 0)[0].URL)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestDeclarations(t *testing.T) {
	decl := SearchProductsDeclaration()
	require.Equal(t, SearchProductsName, decl.Name)
	require.Contains(t, decl.Parameters.Properties, "query")
	require.Equal(t, StoreInformationName, StoreInformationDeclaration().Name)
	require.Contains(t, StoreInformation(), "Returns")
}
