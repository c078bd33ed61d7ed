package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestBareKeyword(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("PING\n"))
	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, CmdPing, req.Command)
	assert.Equal(t, "", req.Body)
}

func TestReadRequestWithJSONBody(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`SEARCH {"bookmark_path":"/home","mode":"all","query":"main"}` + "\n"))
	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, CmdSearch, req.Command)
	assert.Contains(t, req.Body, `"bookmark_path":"/home"`)
}

func TestReadRequestRescanBarePath(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("RESCAN /home/user/projects\n"))
	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, CmdRescan, req.Command)
	assert.Equal(t, "/home/user/projects", req.Body)
}

func TestReadRequestLowercaseCommandIsUppercased(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("ping\n"))
	req, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, CmdPing, req.Command)
}

func TestReadRequestRejectsEmptyLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n"))
	_, err := ReadRequest(r)
	assert.Error(t, err)
}

func TestWriteResponseFramesWithTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResponse(&buf, NewPingResponse())
	require.NoError(t, err)
	assert.Equal(t, "{\"status\":\"pong\"}\n", buf.String())
}
