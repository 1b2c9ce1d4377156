package persistence

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"msx-grid-bot-go/internal/models"
)

// ConfigSnapshot is the write-once record of a strategy's parameters,
// keyed by the exchange position id. It is written when a position is
// first established and never modified afterwards, so a restarted
// process can rebuild the strategy exactly as it was started.
type ConfigSnapshot struct {
	PositionID    int64                 `json:"position_id"`
	Config        models.StrategyConfig `json:"config"`
	TotalCapital  float64               `json:"total_capital"`
	EachOrderSize float64               `json:"each_order_size"`
	StartPrice    float64               `json:"start_price"`
	StartedAt     time.Time             `json:"started_at"`
	CreatedAt     time.Time             `json:"created_at"`
}

var ledgerHeader = []string{
	"order_id", "symbol", "side", "open_type", "price", "volume",
	"avg_price", "pnl", "fee", "timestamp", "position_id",
}

// Layer stores config snapshots and trade ledgers as flat files under
// a data directory. Snapshots are JSON, ledgers are append-only CSV.
type Layer struct {
	dataDir string
}

// NewLayer creates the data directory if needed and returns a Layer.
func NewLayer(dataDir string) (*Layer, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Layer{dataDir: dataDir}, nil
}

func (l *Layer) snapshotPath(positionID int64) string {
	return filepath.Join(l.dataDir, fmt.Sprintf("grid_config_%d.json", positionID))
}

func (l *Layer) ledgerPath(positionID int64) string {
	return filepath.Join(l.dataDir, fmt.Sprintf("grid_trades_%d.csv", positionID))
}

// SaveConfigSnapshot writes the snapshot for a position id exactly once.
// If the file already exists the call is a no-op.
func (l *Layer) SaveConfigSnapshot(snap *ConfigSnapshot) error {
	path := l.snapshotPath(snap.PositionID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	snap.CreatedAt = time.Now()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	// Write to a temp file first so a crash never leaves a half-written snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadConfigSnapshot reads the snapshot for a position id.
// If no snapshot exists it returns (nil, nil).
func (l *Layer) LoadConfigSnapshot(positionID int64) (*ConfigSnapshot, error) {
	data, err := os.ReadFile(l.snapshotPath(positionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &ConfigSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse config snapshot %d: %w", positionID, err)
	}
	return snap, nil
}

// AppendTrades appends trade records to the ledger of a position id,
// writing the CSV header when the file is new.
func (l *Layer) AppendTrades(positionID int64, trades []models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	path := l.ledgerPath(positionID)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(ledgerHeader); err != nil {
			return err
		}
	}
	for _, t := range trades {
		row := []string{
			t.OrderID,
			t.Symbol,
			string(t.Side),
			strconv.Itoa(int(t.OpenType)),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Volume, 'f', -1, 64),
			strconv.FormatFloat(t.AvgPrice, 'f', -1, 64),
			strconv.FormatFloat(t.PNL, 'f', -1, 64),
			strconv.FormatFloat(t.Fee, 'f', -1, 64),
			strconv.FormatInt(t.Timestamp, 10),
			strconv.FormatInt(t.PositionID, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReplayLedger reads back all trade records for a position id.
// A missing ledger file yields an empty slice.
func (l *Layer) ReplayLedger(positionID int64) ([]models.TradeRecord, error) {
	f, err := os.Open(l.ledgerPath(positionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger %d: %w", positionID, err)
	}

	var trades []models.TradeRecord
	for i, row := range rows {
		if i == 0 || len(row) < len(ledgerHeader) {
			continue // header
		}
		openType, _ := strconv.Atoi(row[3])
		price, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		avgPrice, _ := strconv.ParseFloat(row[6], 64)
		pnl, _ := strconv.ParseFloat(row[7], 64)
		fee, _ := strconv.ParseFloat(row[8], 64)
		ts, _ := strconv.ParseInt(row[9], 10, 64)
		posID, _ := strconv.ParseInt(row[10], 10, 64)
		trades = append(trades, models.TradeRecord{
			OrderID:    row[0],
			Symbol:     row[1],
			Side:       models.Side(row[2]),
			OpenType:   models.OpenType(openType),
			Price:      price,
			Volume:     volume,
			AvgPrice:   avgPrice,
			PNL:        pnl,
			Fee:        fee,
			Timestamp:  ts,
			PositionID: posID,
		})
	}
	return trades, nil
}
