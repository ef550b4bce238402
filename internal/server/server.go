// Package server exposes the scoring entry point over TCP: a plain-text,
// newline-delimited protocol in which a client sends query text terminated
// by a lone dot and receives one "<classname> <score>" line per class.
package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/textutil"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// Server answers classification queries against a trained class barrel.
type Server struct {
	Class  *barrel.Barrel
	Vocab  *vocab.Map
	Method barrel.Method

	// OutFile, when set, is echoed before the scores (auto-answer).
	OutFile string

	// Concurrent serves each connection in its own goroutine, the
	// moral equivalent of the forking server: handlers share only the
	// read-only model.
	Concurrent bool
}

// New creates a server for a loaded model.
func New(class *barrel.Barrel, v *vocab.Map, method barrel.Method) *Server {
	return &Server{Class: class, Vocab: v, Method: method}
}

// Serve accepts connections until the listener closes. A broken client
// connection aborts that query only.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		if s.Concurrent {
			go s.handle(conn)
		} else {
			s.handle(conn)
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		text, err := readQuery(r)
		if err != nil {
			return
		}
		if err := s.answer(w, text); err != nil {
			logger.Warn("client write failed; dropping connection", "error", err)
			return
		}
	}
}

// readQuery collects lines until the lone-dot terminator.
func readQuery(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

// answer scores the query text and writes the ranked class list followed
// by the dot terminator. Queries with no in-vocabulary terms produce an
// empty result but still emit the terminator.
func (s *Server) answer(w *bufio.Writer, text string) error {
	row := s.QueryRow(text)

	if s.OutFile != "" {
		if _, err := fmt.Fprintln(w, s.OutFile); err != nil {
			return err
		}
	}

	if len(row.Entries) > 0 {
		scores, err := s.Method.Score(s.Class, row, barrel.ScoreOpts{})
		if err != nil {
			logger.Warn("query scoring failed", "error", err)
		} else {
			for _, sc := range scores {
				name := s.Class.Classes.Name(sc.Class)
				if _, err := fmt.Fprintf(w, "%s %g\n", name, sc.Score); err != nil {
					return err
				}
			}
		}
	}

	if _, err := fmt.Fprintln(w, "."); err != nil {
		return err
	}
	return w.Flush()
}

// QueryRow tokenizes query text against the model vocabulary.
func (s *Server) QueryRow(text string) *index.Row {
	counts := map[int]int{}
	for tok, n := range textutil.CountTokens(text) {
		if wi := s.Vocab.Lookup(tok); wi != vocab.NoSuchTerm {
			counts[wi] += n
		}
	}
	row := index.NewRow(counts)
	s.Method.SetQueryWeights(s.Class, row)
	s.Method.NormalizeQueryWeights(row)
	return row
}
