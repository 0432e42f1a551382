package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

type memWriter struct {
	path        string
	contentType string
	data        []byte
	err         error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path, w.contentType, w.data = path, contentType, b
	return nil
}

type stubSource struct {
	orders []domain.Order
	err    error
}

func (s *stubSource) ListTerminalBefore(context.Context, time.Time) ([]domain.Order, error) {
	return s.orders, s.err
}

func terminalOrder(id string) domain.Order {
	return domain.Order{
		ID:        id,
		Account:   "acct-1",
		FromAsset: "WETH",
		ToAsset:   "USDC",
		Status:    domain.OrderStatusExecuted,
	}
}

func TestArchiveOrders(t *testing.T) {
	writer := &memWriter{}
	source := &stubSource{orders: []domain.Order{terminalOrder("o1"), terminalOrder("o2")}}
	a := NewArchiver(writer, source, nil)

	cutoff := time.Date(2026, time.August, 23, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveOrders(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, "archive/orders/2026-08.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	// One compact JSON document per line.
	lines := strings.Split(strings.TrimRight(string(writer.data), "\n"), "\n")
	require.Len(t, lines, 2)
	var first domain.Order
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "o1", first.ID)
}

func TestArchiveOrdersNothingToDo(t *testing.T) {
	writer := &memWriter{}
	a := NewArchiver(writer, &stubSource{}, nil)

	count, err := a.ArchiveOrders(context.Background(), time.Now().UTC())

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.path, "no upload for an empty batch")
}

func TestArchiveOrdersUploadFailure(t *testing.T) {
	writer := &memWriter{err: errors.New("bucket unavailable")}
	a := NewArchiver(writer, &stubSource{orders: []domain.Order{terminalOrder("o1")}}, nil)

	_, err := a.ArchiveOrders(context.Background(), time.Now().UTC())

	assert.Error(t, err)
}

func TestMarshalJSONLDoesNotEscapeHTML(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"ref": "a<b>&c"}})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(buf, []byte("a<b>&c")))
}
