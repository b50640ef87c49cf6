// Package assemble reassembles rasterized pages into an image-only PDF.
//
// Pages are streamed: each page's objects are written as soon as it is added,
// so only one encoded page is held in memory. The output carries no timestamps
// and its file ID is derived from the content, which makes it byte-identical
// for identical input.
package assemble

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"image"
	"image/jpeg"
	"io"
	"math"
	"strconv"
)

const (
	catalogObj = 1
	pagesObj   = 2
	firstPage  = 3 // image, content and page objects follow in triples
)

type Options struct {
	DPI     int // resolution the pages were rasterized at; sets the page size in points
	Quality int // JPEG quality 1..100
}

// Writer streams pages into a PDF. It is not safe for concurrent use.
type Writer struct {
	out     *bufio.Writer
	sum     hash.Hash
	opts    Options
	offset  int64
	offsets []int64 // index = object number
	pages   []int   // page object numbers in order
	buf     bytes.Buffer
	closed  bool
}

// New writes the PDF header to w and returns a Writer for the pages.
func New(w io.Writer, opts Options) (*Writer, error) {
	if opts.DPI <= 0 {
		return nil, fmt.Errorf("assemble: dpi must be positive, got %d", opts.DPI)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = 85
	}
	pw := &Writer{
		out:     bufio.NewWriterSize(w, 64<<10),
		sum:     md5.New(),
		opts:    opts,
		offsets: make([]int64, firstPage),
	}
	if err := pw.write([]byte("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")); err != nil {
		return nil, err
	}
	return pw, nil
}

// Pages is the number of pages added so far.
func (w *Writer) Pages() int { return len(w.pages) }

// AddPage encodes img as a full-page JPEG and appends it.
func (w *Writer) AddPage(img image.Image) error {
	if w.closed {
		return errors.New("assemble: writer closed")
	}
	b := img.Bounds()
	if b.Empty() {
		return errors.New("assemble: empty page image")
	}

	w.buf.Reset()
	if err := jpeg.Encode(&w.buf, img, &jpeg.Options{Quality: w.opts.Quality}); err != nil {
		return fmt.Errorf("assemble: encode page %d: %w", len(w.pages)+1, err)
	}
	colorSpace := "/DeviceRGB"
	if _, ok := img.(*image.Gray); ok {
		colorSpace = "/DeviceGray"
	}

	n := len(w.offsets)
	imageObj, contentObj, pageObj := n, n+1, n+2
	wpt, hpt := w.points(b.Dx()), w.points(b.Dy())

	head := fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>",
		b.Dx(), b.Dy(), colorSpace, w.buf.Len())
	if err := w.stream(imageObj, head, w.buf.Bytes()); err != nil {
		return err
	}

	content := []byte(fmt.Sprintf("q %s 0 0 %s 0 0 cm /Im0 Do Q\n", wpt, hpt))
	if err := w.stream(contentObj, fmt.Sprintf("<< /Length %d >>", len(content)), content); err != nil {
		return err
	}

	page := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Resources << /XObject << /Im0 %d 0 R >> >> /Contents %d 0 R >>",
		pagesObj, wpt, hpt, imageObj, contentObj)
	if err := w.object(pageObj, page); err != nil {
		return err
	}
	w.pages = append(w.pages, pageObj)
	return nil
}

// Close writes the page tree, cross-reference table and trailer, and flushes.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.pages) == 0 {
		return errors.New("assemble: no pages")
	}

	var kids bytes.Buffer
	for i, p := range w.pages {
		if i > 0 {
			kids.WriteByte(' ')
		}
		kids.WriteString(strconv.Itoa(p) + " 0 R")
	}
	if err := w.object(pagesObj, fmt.Sprintf("<< /Type /Pages /Count %d /Kids [%s] >>", len(w.pages), kids.String())); err != nil {
		return err
	}
	if err := w.object(catalogObj, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)); err != nil {
		return err
	}

	id := fmt.Sprintf("%x", w.sum.Sum(nil))
	xrefOffset := w.offset
	var x bytes.Buffer
	fmt.Fprintf(&x, "xref\n0 %d\n", len(w.offsets))
	x.WriteString("0000000000 65535 f \n")
	for _, off := range w.offsets[1:] {
		fmt.Fprintf(&x, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&x, "trailer\n<< /Size %d /Root %d 0 R /ID [<%s> <%s>] >>\n", len(w.offsets), catalogObj, id, id)
	fmt.Fprintf(&x, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	if err := w.write(x.Bytes()); err != nil {
		return err
	}
	return w.out.Flush()
}

func (w *Writer) points(px int) string {
	pt := float64(px) * 72 / float64(w.opts.DPI)
	return strconv.FormatFloat(math.Round(pt*100)/100, 'f', -1, 64)
}

func (w *Writer) object(num int, body string) error {
	w.mark(num)
	return w.write([]byte(fmt.Sprintf("%d 0 obj\n%s\nendobj\n", num, body)))
}

func (w *Writer) stream(num int, dict string, data []byte) error {
	w.mark(num)
	if err := w.write([]byte(fmt.Sprintf("%d 0 obj\n%s\nstream\n", num, dict))); err != nil {
		return err
	}
	if err := w.write(data); err != nil {
		return err
	}
	return w.write([]byte("\nendstream\nendobj\n"))
}

func (w *Writer) mark(num int) {
	for len(w.offsets) <= num {
		w.offsets = append(w.offsets, 0)
	}
	w.offsets[num] = w.offset
}

func (w *Writer) write(p []byte) error {
	n, err := w.out.Write(p)
	w.offset += int64(n)
	w.sum.Write(p[:n])
	if err != nil {
		return fmt.Errorf("assemble: write: %w", err)
	}
	return nil
}
