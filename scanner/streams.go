package scanner

import (
	"bytes"
	"errors"
	"io"
)

var endstreamMarker = []byte("endstream")

// scanStream consumes the payload between the stream keyword and endstream.
// When the caller announced the declared /Length via SetNextStreamLength the
// payload is taken verbatim; otherwise the data is searched for a plausible
// endstream marker.
func (s *fileScanner) scanStream(start int64) (Token, error) {
	if err := s.fill(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	// The stream keyword must be followed by an EOL before the data.
	if s.pos >= int64(len(s.buf)) {
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
		return s.emit(Token{Type: TokenStream, Pos: start})
	}
	switch s.buf[s.pos] {
	case '\r':
		s.pos++
		s.skipLF()
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos
	if s.nextStreamLen >= 0 {
		return s.scanStreamWithLength(start, dataStart)
	}
	return s.scanStreamBySearch(start, dataStart)
}

func (s *fileScanner) scanStreamWithLength(start, dataStart int64) (Token, error) {
	length := s.nextStreamLen
	s.nextStreamLen = -1
	if s.cfg.MaxStreamLength > 0 && length > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	if length > 0 {
		if err := s.fill(dataStart + length - 1); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		} else if errors.Is(err, io.EOF) {
			if recErr := s.recover(errors.New("stream ended before declared length"), "stream"); recErr != nil {
				return Token{}, recErr
			}
		}
	}
	if dataStart+length > int64(len(s.buf)) {
		length = int64(len(s.buf)) - dataStart
	}
	end := dataStart + length
	payload := append([]byte(nil), s.buf[dataStart:end]...)
	s.pos = end

	// Optional EOL between data and the endstream keyword.
	if err := s.fill(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	if s.pos < int64(len(s.buf)) {
		switch s.buf[s.pos] {
		case '\r':
			s.pos++
			s.skipLF()
		case '\n':
			s.pos++
		}
	}
	if s.pos+int64(len(endstreamMarker)) <= int64(len(s.buf)) &&
		bytes.Equal(s.buf[s.pos:s.pos+int64(len(endstreamMarker))], endstreamMarker) {
		s.pos += int64(len(endstreamMarker))
	} else if idx := bytes.Index(s.buf[s.pos:], endstreamMarker); idx >= 0 {
		// Declared length was wrong; resync on the next marker.
		s.pos += int64(idx + len(endstreamMarker))
	}
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

func (s *fileScanner) scanStreamBySearch(start, dataStart int64) (Token, error) {
	idx := int64(-1)
	for i := dataStart; ; i++ {
		if err := s.fill(i + int64(len(endstreamMarker)) - 1); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if i+int64(len(endstreamMarker)) > int64(len(s.buf)) {
			break
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			if recErr := s.recover(errors.New("endstream not found within scan limit"), "stream"); recErr != nil {
				return Token{}, recErr
			}
			break
		}
		if s.cfg.MaxStreamLength > 0 && i-dataStart > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		if s.buf[i] != 'e' {
			continue
		}
		if !bytes.HasPrefix(s.buf[i:], endstreamMarker) {
			continue
		}
		prevOK := hasStreamBreakBefore(s.buf, i, dataStart)
		after := i + int64(len(endstreamMarker))
		followOK := after >= int64(len(s.buf)) || isDelimiter(s.buf[after])
		if prevOK && followOK {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Unterminated stream runs to EOF.
		payload := append([]byte(nil), s.buf[dataStart:]...)
		if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		s.pos = int64(len(s.buf))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	end := idx
	// Trim the EOL that separates data from the marker.
	if end > dataStart && s.buf[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.buf[end-1] == '\r' {
		end--
	}
	payload := append([]byte(nil), s.buf[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	s.pos = idx + int64(len(endstreamMarker))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

// scanInlineImage consumes bytes after the ID operator up to an EI delimiter
// on its own token boundary. Parameters before ID are the caller's business.
func (s *fileScanner) scanInlineImage(start int64) (Token, error) {
	if err := s.fill(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	if s.pos < int64(len(s.buf)) && isWhitespace(s.buf[s.pos]) {
		s.pos++
	} else if err := s.recover(errors.New("inline image missing whitespace after ID"), "inline_image"); err != nil {
		return Token{}, err
	}
	dataStart := s.pos
	for {
		if err := s.fill(s.pos + 2); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos+1 >= int64(len(s.buf)) {
			if err := s.recover(errors.New("unterminated inline image"), "inline_image"); err != nil {
				return Token{}, err
			}
			payload := append([]byte(nil), s.buf[dataStart:]...)
			s.pos = int64(len(s.buf))
			return s.emit(Token{Type: TokenInlineImage, Bytes: payload, Pos: start})
		}
		if s.buf[s.pos] == 'E' && s.buf[s.pos+1] == 'I' {
			prevOK := s.pos > dataStart && isWhitespace(s.buf[s.pos-1])
			var nextOK bool
			if s.pos+2 >= int64(len(s.buf)) {
				nextOK = true
			} else {
				nextOK = isDelimiter(s.buf[s.pos+2])
			}
			if prevOK && nextOK {
				// Exclude the whitespace byte preceding EI from the data.
				payload := append([]byte(nil), s.buf[dataStart:s.pos-1]...)
				s.pos += 2
				return s.emit(Token{Type: TokenInlineImage, Bytes: payload, Pos: start})
			}
		}
		s.pos++
		if s.cfg.MaxInlineImage > 0 && s.pos-dataStart > s.cfg.MaxInlineImage {
			return Token{}, errors.New("inline image too long")
		}
	}
}

// hasStreamBreakBefore reports whether position i is preceded by a line
// break or whitespace, making it a safe endstream candidate inside binary
// payloads.
func hasStreamBreakBefore(data []byte, i, dataStart int64) bool {
	if i == dataStart {
		return true
	}
	return isWhitespace(data[i-1])
}
