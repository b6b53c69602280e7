package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentText(t *testing.T) {
	content, err := ParseContent(MessageTypeText, json.RawMessage(`"hello"`))
	require.NoError(t, err)
	assert.Equal(t, "hello", content.Text)
	assert.False(t, content.IsFile())
}

func TestParseContentFiles(t *testing.T) {
	raw := json.RawMessage(`[{"content":"","fileId":"f1","mediaType":"image/png"}]`)
	content, err := ParseContent(MessageTypeFile, raw)
	require.NoError(t, err)
	require.True(t, content.IsFile())
	assert.Equal(t, "f1", content.Files[0].FileID)
}

func TestParseContentShapeMismatch(t *testing.T) {
	_, err := ParseContent(MessageTypeFile, json.RawMessage(`"not files"`))
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = ParseContent(MessageTypeText, json.RawMessage(`[{"fileId":"f1"}]`))
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestParseContentUnknownType(t *testing.T) {
	_, err := ParseContent("sticker", json.RawMessage(`"x"`))
	assert.Error(t, err)
}

func TestValidateContentFileRequiresIDs(t *testing.T) {
	err := ValidateContent(MessageTypeFile, FileContent([]FileEntry{{FileID: ""}}))
	assert.ErrorIs(t, err, ErrInvalidContent)

	err = ValidateContent(MessageTypeFile, FileContent([]FileEntry{}))
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestMessageContentJSONRoundTrip(t *testing.T) {
	text := TextContent("hi there")
	data, err := json.Marshal(text)
	require.NoError(t, err)
	assert.JSONEq(t, `"hi there"`, string(data))

	var decodedText MessageContent
	require.NoError(t, json.Unmarshal(data, &decodedText))
	assert.Equal(t, text, decodedText)

	files := FileContent([]FileEntry{{Content: "url", FileID: "f1", MediaType: "image/png"}})
	data, err = json.Marshal(files)
	require.NoError(t, err)

	var decodedFiles MessageContent
	require.NoError(t, json.Unmarshal(data, &decodedFiles))
	assert.Equal(t, files, decodedFiles)
}

func TestReadReceiptsContains(t *testing.T) {
	receipts := ReadReceipts{{UserID: "u1", Timestamp: time.Now()}}
	assert.True(t, receipts.Contains("u1"))
	assert.False(t, receipts.Contains("u2"))
	assert.False(t, ReadReceipts(nil).Contains("u1"))
}

func TestParticipantsFindAndEntries(t *testing.T) {
	participants := Participants{{UserID: "a"}, {UserID: "b"}}
	assert.Equal(t, 1, participants.Find("b"))
	assert.Equal(t, -1, participants.Find("z"))

	p := &participants[0]
	*p.Entries(CandidatesOffer) = append(*p.Entries(CandidatesOffer), SignalEntry{To: "b"})
	*p.Entries(CandidatesAnswer) = append(*p.Entries(CandidatesAnswer), SignalEntry{To: "c"})
	assert.Len(t, p.Offers, 1)
	assert.Len(t, p.Answers, 1)

	assert.NotNil(t, FindEntry(p.Offers, "b"))
	assert.Nil(t, FindEntry(p.Offers, "c"))
}
