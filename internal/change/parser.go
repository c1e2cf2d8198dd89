package change

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/osm"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/geo"
	"github.com/wegman-software/osmapi-go/internal/store"
)

// Stats tracks what a change file contained
type Stats struct {
	NodeCreates   int64
	NodeModifies  int64
	NodeDeletes   int64
	WaysIgnored   int64
	RelsIgnored   int64
}

// Parser streams node changes out of osmChange (.osc) files. Ways and
// relations in the file are counted and skipped; the engine versions
// point entities only.
type Parser struct {
	stats Stats
}

// NewParser creates a new change file parser
func NewParser() *Parser {
	return &Parser{}
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// ParseFile parses a change file and streams node changes to a channel.
// Supports both plain XML and gzip-compressed files.
func (p *Parser) ParseFile(ctx context.Context, filename string) (<-chan store.Change, <-chan error) {
	changes := make(chan store.Change, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errChan)

		f, err := os.Open(filename)
		if err != nil {
			errChan <- fmt.Errorf("failed to open change file: %w", err)
			return
		}
		defer f.Close()

		var reader io.Reader = f
		if strings.HasSuffix(filename, ".gz") {
			gzReader, err := gzip.NewReader(f)
			if err != nil {
				errChan <- fmt.Errorf("failed to create gzip reader: %w", err)
				return
			}
			defer gzReader.Close()
			reader = gzReader
		}

		if err := p.parse(ctx, reader, changes); err != nil {
			errChan <- err
		}
	}()

	return changes, errChan
}

// ParseReader parses change data from a reader
func (p *Parser) ParseReader(ctx context.Context, reader io.Reader) (<-chan store.Change, <-chan error) {
	changes := make(chan store.Change, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errChan)

		if err := p.parse(ctx, reader, changes); err != nil {
			errChan <- err
		}
	}()

	return changes, errChan
}

// parse walks the osmChange document. The create/modify/delete container
// elements set the action for the elements inside them; the individual
// node elements are decoded by the osm library.
func (p *Parser) parse(ctx context.Context, reader io.Reader, changes chan<- store.Change) error {
	decoder := xml.NewDecoder(reader)
	var action store.Action

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		if ee, ok := token.(xml.EndElement); ok {
			switch ee.Name.Local {
			case "create", "modify", "delete":
				action = ""
			}
			continue
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "create":
			action = store.ActionCreate
		case "modify":
			action = store.ActionModify
		case "delete":
			action = store.ActionDelete
		case "node":
			if action == "" {
				return fmt.Errorf("node element outside create/modify/delete block")
			}
			var n osm.Node
			if err := decoder.DecodeElement(&n, &se); err != nil {
				return fmt.Errorf("failed to decode node: %w", err)
			}
			c, err := p.convert(action, &n)
			if err != nil {
				return err
			}
			select {
			case changes <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "way":
			p.stats.WaysIgnored++
			if err := decoder.Skip(); err != nil {
				return fmt.Errorf("failed to skip way: %w", err)
			}
		case "relation":
			p.stats.RelsIgnored++
			if err := decoder.Skip(); err != nil {
				return fmt.Errorf("failed to skip relation: %w", err)
			}
		}
	}
}

// convert maps a decoded node onto an engine change. The version in the
// file is the version the edit was based on, which for creates the
// engine assigns itself.
func (p *Parser) convert(action store.Action, n *osm.Node) (store.Change, error) {
	pairs := make([][2]string, 0, len(n.Tags))
	for _, tag := range n.Tags {
		pairs = append(pairs, [2]string{tag.Key, tag.Value})
	}
	tags, err := entity.NewTagSet(int64(n.ID), pairs)
	if err != nil {
		return store.Change{}, err
	}

	node := &entity.Node{
		ID:          int64(n.ID),
		Lat:         geo.ToFixed(n.Lat),
		Lon:         geo.ToFixed(n.Lon),
		ChangesetID: int64(n.ChangesetID),
		Version:     int64(n.Version),
		Tags:        tags,
	}

	switch action {
	case store.ActionCreate:
		p.stats.NodeCreates++
		if node.ID < 0 {
			node.ID = 0 // placeholder id, the store assigns a real one
		}
		node.Version = 0
	case store.ActionModify:
		p.stats.NodeModifies++
	case store.ActionDelete:
		p.stats.NodeDeletes++
		node.Tags = nil
	}

	return store.Change{Action: action, Node: node}, nil
}
