package utils

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

type FileInfo struct {
	Name               string
	MimeType           string
	ContentDisposition string
}

// GetFileInfo derives response headers from a torrent file path. Paths use
// forward slashes whatever the platform.
func GetFileInfo(filePath string) FileInfo {
	fileName := path.Base(filePath)
	return FileInfo{
		Name:               fileName,
		MimeType:           getMIMEType(strings.ToLower(path.Ext(fileName))),
		ContentDisposition: fmt.Sprintf(`inline; filename=%q`, fileName),
	}
}

func getMIMEType(fileExt string) string {
	switch fileExt {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".ts":
		return "video/mp2t"
	case ".ogg", ".ogv":
		return "video/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	}
	if t := mime.TypeByExtension(fileExt); t != "" {
		return t
	}
	return "application/octet-stream"
}
