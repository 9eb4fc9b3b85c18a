package telegram

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EffectiveMessage returns the new or edited message carried by the update
func (u *Update) EffectiveMessage() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

// ParseCommand splits "/cmd@bot rest of text" into ("/cmd", "rest of text").
// Only the first separator is dropped, whatever its width. ok is false when
// text is not a command.
func ParseCommand(text string) (cmd string, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		_, width := utf8.DecodeRuneInString(text[i:])
		head, rest = text[:i], text[i+width:]
	}
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	if len(head) < 2 {
		return "", "", false
	}
	return strings.ToLower(head), rest, true
}

// File types recorded by the bot
const (
	FileDocument = "document"
	FilePhoto    = "photo"
	FileVideo    = "video"
	FileVoice    = "voice"
	FileAudio    = "audio"
)

// FileInfo is the metadata of the single attachment the bot records per message
type FileInfo struct {
	Type         string
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
	Width        int
	Height       int
	Duration     int
}

// ExtractFile returns the message attachment, checking document, photo,
// video, voice and audio in that order. For photos the largest size wins.
func ExtractFile(m *Message) *FileInfo {
	if m == nil {
		return nil
	}
	switch {
	case m.Document != nil:
		d := m.Document
		return &FileInfo{Type: FileDocument, FileID: d.FileID, FileUniqueID: d.FileUniqueID,
			FileName: d.FileName, MimeType: d.MimeType, FileSize: d.FileSize}
	case len(m.Photo) > 0:
		p := LargestPhoto(m.Photo)
		return &FileInfo{Type: FilePhoto, FileID: p.FileID, FileUniqueID: p.FileUniqueID,
			FileSize: p.FileSize, Width: p.Width, Height: p.Height}
	case m.Video != nil:
		v := m.Video
		return &FileInfo{Type: FileVideo, FileID: v.FileID, FileUniqueID: v.FileUniqueID,
			FileName: v.FileName, MimeType: v.MimeType, FileSize: v.FileSize,
			Width: v.Width, Height: v.Height, Duration: v.Duration}
	case m.Voice != nil:
		v := m.Voice
		return &FileInfo{Type: FileVoice, FileID: v.FileID, FileUniqueID: v.FileUniqueID,
			MimeType: v.MimeType, FileSize: v.FileSize, Duration: v.Duration}
	case m.Audio != nil:
		a := m.Audio
		return &FileInfo{Type: FileAudio, FileID: a.FileID, FileUniqueID: a.FileUniqueID,
			FileName: a.FileName, MimeType: a.MimeType, FileSize: a.FileSize, Duration: a.Duration}
	}
	return nil
}

// LargestPhoto picks the size with the most pixels; on ties the later entry
// wins, matching the Bot API's ascending order.
func LargestPhoto(sizes []PhotoSize) PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best
}
