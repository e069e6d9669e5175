package protocol

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/pkg/directory"
	"github.com/collabtree/collabd/pkg/record"
)

// Session is the mutable per-connection protocol state: the session's own
// directory connection and the record currently bound, if any.
type Session struct {
	// Conn is the session's private directory connection. Never shared.
	Conn directory.Connection

	// Paths is the URI-to-path mapping configuration of this server.
	Paths record.PathConfig

	// Record is the currently bound record, nil before the first
	// successful URI command.
	Record *record.VersionedRecord
}

// wireAttr maps protocol attribute tokens to stored attribute names.
type wireAttr struct {
	name  string
	multi bool
}

var wireAttrs = map[string]wireAttr{
	"URL":               {directory.AttrLocation, true},
	"REQUIREDCONTAINER": {directory.AttrRequiredContainer, true},
	"OPTIONALCONTAINER": {directory.AttrOptionalContainer, true},
	"DESC":              {directory.AttrDescription, false},
	"METADATA":          {directory.AttrMetadata, false},
	"TYPE":              {directory.AttrType, false},
	"CONTAINERREVISION": {directory.AttrContainerRevision, false},
}

var helpLines = []string{
	"HLP",
	"URI <uri>",
	"URI NEW <uri>",
	"GET {REVISION|REVISIONCOUNT|REVISIONINFO <n>|URL|ALIGNEDURL|REQUIREDCONTAINER|OPTIONALCONTAINER|DESC|METADATA|TYPE|CONTAINERREVISION|LDIF|TIMESTAMPCREATED|TIMESTAMPMODIFIED}",
	"SET {REVISION <n>|DESC <text>|METADATA <text>|TYPE <text>|CONTAINERREVISION <text>}",
	"ADD {REVISION|URL <v>|REQUIREDCONTAINER <v>|OPTIONALCONTAINER <v>}",
	"DEL {METADATA|DESC|TYPE|URL <v>|REQUIREDCONTAINER <v>|OPTIONALCONTAINER <v>}",
	"MOD <attr> <old> <new>",
	"RST REVISION <n>",
	"QUIT",
}

// Handle processes one request line against the session and returns the
// response to write back.
//
// Tokens are separated by single spaces; verb and attribute names are
// case-insensitive. Commands other than HLP, QUIT and URI require a bound
// record. Handle never returns internal error text to the client, only the
// fixed status vocabulary plus, for GET, the retrieved values.
func Handle(ctx context.Context, s *Session, line string) Response {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return failure(StatusBadRequest)
	}

	verb := strings.ToUpper(tokens[0])
	switch verb {
	case "HLP":
		return ok(helpLines...)
	case "QUIT":
		return Response{Status: StatusClientDisconnect, Close: true}
	}

	if len(tokens) < 2 {
		return failure(StatusBadRequest)
	}

	if verb == "URI" {
		return s.handleBind(ctx, tokens)
	}
	if s.Record == nil {
		// Everything below needs a prior successful URI command.
		return failure(StatusBadRequest)
	}

	switch verb {
	case "GET":
		return s.handleGet(ctx, tokens)
	case "SET":
		return s.handleSet(ctx, tokens)
	case "ADD":
		return s.handleAdd(ctx, tokens)
	case "DEL":
		return s.handleDel(ctx, tokens)
	case "MOD":
		return s.handleMod(ctx, tokens)
	case "RST":
		return s.handleRestore(ctx, tokens)
	default:
		return failure(StatusBadRequest)
	}
}

// handleBind serves URI and URI NEW, binding (or creating) a record.
// Rebinding an already-bound session is allowed.
func (s *Session) handleBind(ctx context.Context, tokens []string) Response {
	create := false
	uri := tokens[1]
	if strings.EqualFold(tokens[1], "NEW") {
		if len(tokens) != 3 {
			return failure(StatusBadRequest)
		}
		create = true
		uri = tokens[2]
	} else if len(tokens) != 2 {
		return failure(StatusBadRequest)
	}

	rec, err := record.Bind(ctx, s.Conn, s.Paths, uri, create)
	if err != nil {
		return respondErr("URI", err)
	}
	s.Record = rec
	return ok()
}

func (s *Session) handleGet(ctx context.Context, tokens []string) Response {
	attr := strings.ToUpper(tokens[1])

	switch attr {
	case "REVISION":
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		return ok(strconv.Itoa(s.Record.Revision()))

	case "REVISIONCOUNT":
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		count, err := s.Record.RevisionCount(ctx)
		if err != nil {
			return respondErr("GET REVISIONCOUNT", err)
		}
		return ok(strconv.Itoa(count))

	case "REVISIONINFO":
		if len(tokens) != 3 {
			return failure(StatusBadRequest)
		}
		n, err := strconv.Atoi(tokens[2])
		if err != nil {
			return failure(StatusBadRequest)
		}
		snap, err := s.Record.RevisionInfo(ctx, n)
		if err != nil {
			return respondErr("GET REVISIONINFO", err)
		}
		return ok(snapshotLines(snap)...)

	case "ALIGNEDURL":
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		urls, err := s.Record.AlignedLocations(ctx)
		if err != nil {
			return respondErr("GET ALIGNEDURL", err)
		}
		return ok(urls...)

	case "LDIF":
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		lines, err := s.Record.DumpEntry(ctx)
		if err != nil {
			return respondErr("GET LDIF", err)
		}
		return ok(lines...)

	case "TIMESTAMPCREATED", "TIMESTAMPMODIFIED":
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		created, modified, err := s.Record.Timestamps(ctx)
		if err != nil {
			return respondErr("GET "+attr, err)
		}
		ts := created
		if attr == "TIMESTAMPMODIFIED" {
			ts = modified
		}
		return ok(ts.UTC().Format(time.RFC3339))
	}

	wa, known := wireAttrs[attr]
	if !known || len(tokens) != 2 {
		return failure(StatusBadRequest)
	}
	if wa.multi {
		values, err := s.Record.Values(ctx, wa.name)
		if err != nil {
			return respondErr("GET "+attr, err)
		}
		return ok(values...)
	}
	value, err := s.Record.Text(ctx, wa.name)
	if err != nil {
		return respondErr("GET "+attr, err)
	}
	return ok(record.EscapeText(value))
}

func (s *Session) handleSet(ctx context.Context, tokens []string) Response {
	attr := strings.ToUpper(tokens[1])

	if attr == "REVISION" {
		if len(tokens) != 3 {
			return failure(StatusBadRequest)
		}
		n, err := strconv.Atoi(tokens[2])
		if err != nil {
			return failure(StatusBadRequest)
		}
		if err := s.Record.SetRevision(ctx, n); err != nil {
			return respondErr("SET REVISION", err)
		}
		return ok()
	}

	wa, known := wireAttrs[attr]
	if !known || wa.multi || len(tokens) < 3 {
		return failure(StatusBadRequest)
	}
	// Remaining tokens are rejoined with single spaces; interior
	// whitespace runs collapse. Documented lossy behavior.
	value := record.UnescapeText(strings.Join(tokens[2:], " "))
	if err := s.Record.SetText(ctx, wa.name, value); err != nil {
		return respondErr("SET "+attr, err)
	}
	return ok()
}

func (s *Session) handleAdd(ctx context.Context, tokens []string) Response {
	attr := strings.ToUpper(tokens[1])

	if attr == "REVISION" {
		if len(tokens) != 2 {
			return failure(StatusBadRequest)
		}
		if _, err := s.Record.CreateRevision(ctx); err != nil {
			return respondErr("ADD REVISION", err)
		}
		return ok()
	}

	wa, known := wireAttrs[attr]
	if !known || !wa.multi || len(tokens) != 3 {
		return failure(StatusBadRequest)
	}
	if err := s.Record.AddValue(ctx, wa.name, tokens[2]); err != nil {
		return respondErr("ADD "+attr, err)
	}
	return ok()
}

func (s *Session) handleDel(ctx context.Context, tokens []string) Response {
	attr := strings.ToUpper(tokens[1])
	wa, known := wireAttrs[attr]
	if !known {
		return failure(StatusBadRequest)
	}

	if wa.multi {
		if len(tokens) != 3 {
			return failure(StatusBadRequest)
		}
		if err := s.Record.RemoveValue(ctx, wa.name, tokens[2]); err != nil {
			return respondErr("DEL "+attr, err)
		}
		return ok()
	}

	if attr == "CONTAINERREVISION" || len(tokens) != 2 {
		// DEL covers METADATA, DESC and TYPE among the single-valued set.
		return failure(StatusBadRequest)
	}
	if err := s.Record.RemoveText(ctx, wa.name); err != nil {
		return respondErr("DEL "+attr, err)
	}
	return ok()
}

func (s *Session) handleMod(ctx context.Context, tokens []string) Response {
	if len(tokens) != 4 {
		return failure(StatusBadRequest)
	}
	wa, known := wireAttrs[strings.ToUpper(tokens[1])]
	if !known || !wa.multi {
		return failure(StatusBadRequest)
	}
	if err := s.Record.ModifyValue(ctx, wa.name, tokens[2], tokens[3]); err != nil {
		return respondErr("MOD "+tokens[1], err)
	}
	return ok()
}

func (s *Session) handleRestore(ctx context.Context, tokens []string) Response {
	if len(tokens) != 3 || !strings.EqualFold(tokens[1], "REVISION") {
		return failure(StatusBadRequest)
	}
	n, err := strconv.Atoi(tokens[2])
	if err != nil {
		return failure(StatusBadRequest)
	}
	if err := s.Record.RestoreRevision(ctx, n); err != nil {
		return respondErr("RST REVISION", err)
	}
	return ok()
}

// respondErr maps a domain error to its wire status. Unexpected faults are
// logged server-side with full detail; the client only sees the status.
func respondErr(op string, err error) Response {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(StatusServerTimeout)
	}
	status := statusFor(err)
	if status == StatusInternalError {
		logger.Error("%s failed: %v", op, err)
	}
	return failure(status)
}

// snapshotLines renders a snapshot as "name: value" data lines.
func snapshotLines(snap *record.Snapshot) []string {
	var lines []string
	add := func(name string, values ...string) {
		for _, v := range values {
			if v != "" {
				lines = append(lines, name+": "+record.EscapeText(v))
			}
		}
	}
	add(directory.AttrURI, snap.URI)
	lines = append(lines, "revision: "+strconv.Itoa(snap.Revision))
	add(directory.AttrLocation, snap.Locations...)
	add(directory.AttrRequiredContainer, snap.RequiredContainers...)
	add(directory.AttrOptionalContainer, snap.OptionalContainers...)
	add(directory.AttrDescription, snap.Description)
	add(directory.AttrType, snap.Type)
	add(directory.AttrMetadata, snap.Metadata)
	add(directory.AttrContainerRevision, snap.ContainerRevision)
	if !snap.Created.IsZero() {
		lines = append(lines, "created: "+snap.Created.UTC().Format(time.RFC3339))
	}
	if !snap.Modified.IsZero() {
		lines = append(lines, "modified: "+snap.Modified.UTC().Format(time.RFC3339))
	}
	return lines
}
