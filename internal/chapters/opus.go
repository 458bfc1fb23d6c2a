package chapters

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/spf13/afero"
)

var opusTagsSig = []byte("OpusTags")

// OpusHead and OpusTags are the first two packets of an Ogg Opus stream.
const maxHeaderPackets = 2

func loadOpus(fs afero.Fs, path string) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	pkt, err := findOpusTags(newOggPacketReader(f))
	if err != nil {
		return nil, err
	}

	tags, err := oggreader.ParseOpusTags(pkt)
	if err != nil {
		return nil, fmt.Errorf("parse OpusTags: %w", err)
	}

	comments := make(map[string]string, len(tags.UserComments))
	for _, c := range tags.UserComments {
		comments[strings.ToUpper(strings.TrimSpace(c.Comment))] = strings.TrimSpace(c.Value)
	}
	return chapterEntries(comments)
}

func findOpusTags(pr *oggPacketReader) ([]byte, error) {
	for i := 0; i < maxHeaderPackets; i++ {
		pkt, err := pr.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(pkt, opusTagsSig) {
			return pkt, nil
		}
	}
	return nil, errors.New("no OpusTags header")
}

// chapterEntries reads the Vorbis chapter extension: CHAPTERnnn holds the
// start time and CHAPTERnnnNAME the title. Names without a start are ignored.
func chapterEntries(comments map[string]string) ([]Entry, error) {
	type chapter struct {
		num   int
		entry Entry
	}
	byNum := map[int]*chapter{}
	get := func(n int) *chapter {
		c, ok := byNum[n]
		if !ok {
			c = &chapter{num: n}
			byNum[n] = c
		}
		return c
	}

	starts := map[int]bool{}
	for key, val := range comments {
		rest, ok := strings.CutPrefix(key, "CHAPTER")
		if !ok {
			continue
		}
		digits, isName := strings.CutSuffix(rest, "NAME")
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}

		if isName {
			get(n).entry.Label = val
			continue
		}
		at, err := ParseTimestamp(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		get(n).entry.At = at
		starts[n] = true
	}

	chapters := make([]*chapter, 0, len(starts))
	for n := range starts {
		chapters = append(chapters, byNum[n])
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].num < chapters[j].num })

	entries := make([]Entry, len(chapters))
	for i, c := range chapters {
		entries[i] = c.entry
	}
	return entries, nil
}

// oggPacketReader reassembles Ogg packets that span pages. Page checksums are
// not verified.
type oggPacketReader struct {
	r *bufio.Reader

	// In-progress packet spanning pages.
	carry []byte

	queue [][]byte

	hdr    [27]byte
	segArr [255]byte
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{r: bufio.NewReader(r)}
}

func (o *oggPacketReader) Next() ([]byte, error) {
	for len(o.queue) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.queue[0]
	o.queue = o.queue[1:]
	return p, nil
}

func (o *oggPacketReader) readPage() error {
	if _, err := io.ReadFull(o.r, o.hdr[:]); err != nil {
		return err
	}
	if !bytes.Equal(o.hdr[0:4], []byte("OggS")) {
		return fmt.Errorf("invalid ogg capture pattern: %q", o.hdr[0:4])
	}

	seg := o.segArr[:int(o.hdr[26])]
	if _, err := io.ReadFull(o.r, seg); err != nil {
		return err
	}

	total := 0
	for _, s := range seg {
		total += int(s)
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(o.r, payload); err != nil {
		return err
	}

	cur := o.carry
	o.carry = nil
	off := 0
	for _, s := range seg {
		n := int(s)
		cur = append(cur, payload[off:off+n]...)
		off += n

		// A lacing value below 255 ends the packet.
		if s < 255 {
			if len(cur) > 0 {
				o.queue = append(o.queue, cur)
			}
			cur = nil
		}
	}
	if len(cur) > 0 {
		o.carry = cur
	}
	return nil
}
