// Token dump for debugging the tokenizer against real files.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfdoc/fdio"
	"github.com/wudi/pdfdoc/scanner"
)

const maxTokens = 200000 // avoid flooding the terminal on huge files

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: scantest <pdf>")
		os.Exit(1)
	}
	src, err := fdio.OpenFileReader(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "scantest: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	s := scanner.New(src, scanner.Config{})
	for i := 0; i < maxTokens; i++ {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("ERR @%d: %v\n", s.Position(), err)
			break
		}
		fmt.Printf("%8d  %-12s %s\n", tok.Pos, tok.Type, tokenPayload(tok))
	}
}

func tokenPayload(tok scanner.Token) string {
	switch tok.Type {
	case scanner.TokenName:
		return "/" + tok.Str
	case scanner.TokenKeyword:
		return tok.Str
	case scanner.TokenNumber:
		if tok.IsInt {
			return fmt.Sprintf("%d", tok.Int)
		}
		return fmt.Sprintf("%g", tok.Real)
	case scanner.TokenBoolean:
		return fmt.Sprintf("%t", tok.Bool)
	case scanner.TokenRef:
		return fmt.Sprintf("%d %d R", tok.Num, tok.Gen)
	case scanner.TokenString:
		return fmt.Sprintf("(%s)", clip(tok.Bytes, 40))
	case scanner.TokenStream, scanner.TokenInlineImage:
		return fmt.Sprintf("%d bytes", len(tok.Bytes))
	default:
		return ""
	}
}

func clip(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
