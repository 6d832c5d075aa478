package mailbox

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/submission-intake/internal/doctext"
)

// maxPartDepth bounds multipart nesting.
const maxPartDepth = 10

// Parsed is a decoded RFC 822 message.
type Parsed struct {
	InternetID  string
	ThreadID    string
	From        string
	To          []string
	Subject     string
	Date        time.Time
	Body        string
	Attachments []ParsedAttachment
}

// ParsedAttachment is one file part of a message.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

// Parse decodes raw MIME bytes. The text/plain body is preferred; an HTML-only
// body is converted to markdown.
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: read message")
	}
	h := msg.Header

	p := &Parsed{
		InternetID: strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>"),
		ThreadID:   threadID(h),
		From:       address(h.Get("From")),
		To:         addressList(h.Get("To")),
		Subject:    decodeHeader(h.Get("Subject")),
	}
	if d, err := h.Date(); err == nil {
		p.Date = d.UTC()
	}

	w := &walker{}
	if err := w.walk(h, msg.Body, 0); err != nil {
		return nil, err
	}
	p.Attachments = w.attachments

	switch {
	case strings.TrimSpace(w.plain) != "":
		p.Body = strings.TrimSpace(w.plain)
	case w.html != "":
		md, err := doctext.NewHTMLConverter().Convert(w.html)
		if err != nil {
			return nil, err
		}
		p.Body = md
	}
	return p, nil
}

// partHeader is satisfied by both mail.Header and multipart part headers.
type partHeader interface {
	Get(key string) string
}

type walker struct {
	plain       string
	html        string
	attachments []ParsedAttachment
}

func (w *walker) walk(h partHeader, body io.Reader, depth int) error {
	if depth > maxPartDepth {
		return eris.New("mailbox: multipart nesting too deep")
	}

	ct := h.Get("Content-Type")
	if ct == "" {
		ct = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return eris.Wrap(err, "mailbox: read part")
			}
			if err := w.walk(part.Header, part, depth+1); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return eris.Wrap(err, "mailbox: decode part")
	}

	filename := partFilename(h, params)
	disposition, _, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	if filename != "" || disposition == "attachment" || mediaType == "message/rfc822" {
		if filename == "" {
			filename = defaultFilename(mediaType, len(w.attachments)+1)
		}
		w.attachments = append(w.attachments, ParsedAttachment{
			Filename:    filename,
			ContentType: mediaType,
			Data:        data,
		})
		return nil
	}

	switch mediaType {
	case "text/plain":
		if w.plain == "" {
			w.plain = decodeCharset(params["charset"], data)
		}
	case "text/html":
		if w.html == "" {
			w.html = decodeCharset(params["charset"], data)
		}
	}
	return nil
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// newlineStripper drops CR and LF so wrapped base64 decodes.
type newlineStripper struct {
	r io.Reader
}

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

func decodeCharset(charset string, data []byte) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return strings.ToValidUTF8(string(data), "�")
	}
	r, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

func partFilename(h partHeader, ctParams map[string]string) string {
	if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
		if name := params["filename"]; name != "" {
			return cleanFilename(name)
		}
	}
	if name := ctParams["name"]; name != "" {
		return cleanFilename(name)
	}
	return ""
}

func cleanFilename(name string) string {
	name = decodeHeader(name)
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func defaultFilename(mediaType string, n int) string {
	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		ext = exts[0]
	}
	if mediaType == "message/rfc822" {
		ext = ".eml"
	}
	return "attachment-" + strconv.Itoa(n) + ext
}

func decodeHeader(v string) string {
	out, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return strings.TrimSpace(out)
}

func address(v string) string {
	if v == "" {
		return ""
	}
	a, err := (&mail.AddressParser{WordDecoder: wordDecoder}).Parse(v)
	if err != nil {
		return strings.ToLower(strings.Trim(strings.TrimSpace(v), "<>"))
	}
	return strings.ToLower(a.Address)
}

func addressList(v string) []string {
	if v == "" {
		return nil
	}
	list, err := (&mail.AddressParser{WordDecoder: wordDecoder}).ParseList(v)
	if err != nil {
		return []string{strings.TrimSpace(v)}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

func threadID(h mail.Header) string {
	if refs := strings.Fields(h.Get("References")); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	return strings.Trim(strings.TrimSpace(h.Get("In-Reply-To")), "<>")
}
