package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateBuiltinLanguages(t *testing.T) {
	tr, err := NewI18nSupport("en")
	require.NoError(t, err)

	data := map[string]interface{}{"Facility": "City General"}
	assert.Equal(t, "City General has accepted your emergency and is preparing a response.", tr.T("en", "sos.assigned", data))
	assert.Contains(t, tr.T("hi", "sos.assigned", data), "City General")
	assert.Contains(t, tr.T("te", "sos.en_route", data), "City General")
	assert.NotEqual(t, tr.T("en", "sos.resolved", nil), tr.T("te", "sos.resolved", nil))
}

func TestTranslateFallsBack(t *testing.T) {
	tr, err := NewI18nSupport("fr")
	require.NoError(t, err)
	assert.Equal(t, "en", tr.DefaultLang())

	// 未知语言回落到默认语言
	assert.Equal(t, tr.T("en", "sos.resolved", nil), tr.T("fr", "sos.resolved", nil))
	assert.Equal(t, "sos.missing", tr.TWithDefaultLang("sos.missing", nil))
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("hi-IN"))
	assert.True(t, Supported("te_IN"))
	assert.True(t, Supported("EN"))
	assert.False(t, Supported("zh"))
	assert.Len(t, Languages(), 3)
}
