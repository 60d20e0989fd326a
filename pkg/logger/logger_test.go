package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoCF_WritesComponentAndSortedFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	defer SetOutput(os.Stderr, false)

	InfoCF("companion", "turn completed", map[string]interface{}{"stage": "Infant", "new_words": 3})

	out := buf.String()
	assert.Contains(t, out, "turn completed")
	assert.Contains(t, out, "component=companion")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("new_words")), bytes.Index(buf.Bytes(), []byte("stage")))
}

func TestSetLevel_SuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	defer SetOutput(os.Stderr, false)

	SetLevel(INFO)
	DebugC("memory", "hidden")
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	defer SetLevel(INFO)
	DebugC("memory", "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("loud"))
}
