package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// tinyModel trains a two-class model over a handful of hand-written
// documents.
func tinyModel(t *testing.T) *Server {
	t.Helper()
	v := vocab.New(vocab.ModeOpen)
	b := barrel.New(v)
	b.Classes.Intern("sports")
	b.Classes.Intern("finance")

	add := func(class int, text string) {
		di := b.AddDocument(corpus.Doc{Name: "doc", Tag: corpus.TagTrain, Class: class})
		for _, w := range strings.Fields(text) {
			b.AddTerm(v.Add(w), di, 1)
		}
	}
	add(0, "goal ball match team goal")
	add(0, "team match ball")
	add(1, "stock bond market stock")
	add(1, "market bond price")
	b.ComputeWordCounts()
	v.Freeze()

	m := naivebayes.New(naivebayes.DefaultParams())
	b.Method = m
	class, err := m.TrainClassBarrel(b)
	require.NoError(t, err)
	return New(class, v, m)
}

func startServer(t *testing.T, s *Server) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go s.Serve(ln)
	return ln.Addr()
}

// query speaks the wire protocol: text, terminator, then read until the
// dot line.
func query(t *testing.T, addr net.Addr, text string) []string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\n.\r\n", text)
	require.NoError(t, err)

	lines := []string{}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestQueryReturnsRankedClasses(t *testing.T) {
	addr := startServer(t, tinyModel(t))

	lines := query(t, addr, "goal team ball")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "sports "), "top class should be sports, got %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "finance "))

	// Scores are descending.
	var s0, s1 float64
	fmt.Sscanf(strings.Fields(lines[0])[1], "%g", &s0)
	fmt.Sscanf(strings.Fields(lines[1])[1], "%g", &s1)
	assert.Greater(t, s0, s1)
}

func TestEmptyQueryStillTerminates(t *testing.T) {
	addr := startServer(t, tinyModel(t))

	lines := query(t, addr, "zzz qqq")
	assert.Empty(t, lines, "out-of-vocabulary query yields an empty result before the terminator")
}

func TestMultipleQueriesPerConnection(t *testing.T) {
	s := tinyModel(t)
	addr := startServer(t, s)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		_, err := fmt.Fprintf(conn, "stock market\n.\r\n")
		require.NoError(t, err)
		got := 0
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
			got++
		}
		assert.Equal(t, 2, got, "round %d", i)
	}
}

func TestBrokenClientDoesNotKillServer(t *testing.T) {
	s := tinyModel(t)
	addr := startServer(t, s)

	// Connect and slam the door mid-query.
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	fmt.Fprintf(conn, "goal")
	conn.Close()

	// The server must still answer a well-behaved client.
	lines := query(t, addr, "goal team")
	assert.Len(t, lines, 2)
}

func TestOutFileEchoedBeforeScores(t *testing.T) {
	s := tinyModel(t)
	s.OutFile = "canned-answer.txt"
	addr := startServer(t, s)

	lines := query(t, addr, "goal team")
	require.Len(t, lines, 3)
	assert.Equal(t, "canned-answer.txt", lines[0])
}

func TestConcurrentMode(t *testing.T) {
	s := tinyModel(t)
	s.Concurrent = true
	addr := startServer(t, s)

	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			lines := query(t, addr, "stock market bond")
			assert.Len(t, lines, 2)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
