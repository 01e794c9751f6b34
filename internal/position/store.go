package position

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradingcore/internal/errkind"
	"tradingcore/pkg/types"
)

// positionRow is the GORM-mapped persistence shape for types.Position.
// Decimal fields are stored as their canonical string form (gorm has no
// native decimal.Decimal support) to avoid float round-tripping error on
// money/quantity fields, mirroring the exactness shopspring/decimal gives
// the rest of the core.
type positionRow struct {
	ID                 string `gorm:"primaryKey"`
	Symbol             string `gorm:"index"`
	Side               string
	Quantity           string
	EntryPrice         string
	Leverage           int
	StopLossPrice      string
	TakeProfitPrice    *string
	InvalidationConds  string // newline-joined raw predicate strings
	State              string `gorm:"index"`
	OpenedAt           time.Time
	ClosedAt           *time.Time
	RealizedPnL        string
	UnrealizedPnL      string
	L1OrderID          string
	SourceSignalSymbol string
	CycleID            string
}

// Store persists Position state durably via GORM+sqlite, replacing the
// teacher's atomic-rename JSON file store with a queryable, transactional
// backend better suited to a state machine with frequent partial updates.
type Store struct {
	db *gorm.DB
}

// Open creates (or attaches to) a sqlite-backed Store at dsn and runs
// AutoMigrate for the position schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errkind.New(errkind.Fatal, "position.Open", err)
	}
	if err := db.AutoMigrate(&positionRow{}); err != nil {
		return nil, errkind.New(errkind.Fatal, "position.Open", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts a position's full state.
func (s *Store) Save(pos types.Position) error {
	row := toRow(pos)
	if err := s.db.Save(&row).Error; err != nil {
		return errkind.New(errkind.Integrity, "position.Save", err)
	}
	return nil
}

// LoadOpen returns every position not in a terminal state, for restoring
// in-flight positions on startup.
func (s *Store) LoadOpen() ([]types.Position, error) {
	var rows []positionRow
	terminal := []string{string(types.PositionClosed), string(types.PositionLiquidated), string(types.PositionReconciled)}
	if err := s.db.Where("state NOT IN ?", terminal).Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Integrity, "position.LoadOpen", err)
	}
	positions := make([]types.Position, len(rows))
	for i, r := range rows {
		positions[i] = fromRow(r)
	}
	return positions, nil
}

// LoadAll returns every position ever persisted, for audit/reporting.
func (s *Store) LoadAll() ([]types.Position, error) {
	var rows []positionRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Integrity, "position.LoadAll", err)
	}
	positions := make([]types.Position, len(rows))
	for i, r := range rows {
		positions[i] = fromRow(r)
	}
	return positions, nil
}

func toRow(pos types.Position) positionRow {
	var takeProfit *string
	if pos.TakeProfitPrice != nil {
		s := pos.TakeProfitPrice.String()
		takeProfit = &s
	}
	conds := ""
	for i, c := range pos.InvalidationConds {
		if i > 0 {
			conds += "\n"
		}
		conds += c.Raw
	}
	return positionRow{
		ID: pos.ID, Symbol: pos.Symbol, Side: string(pos.Side),
		Quantity: pos.Quantity.String(), EntryPrice: pos.EntryPrice.String(),
		Leverage: pos.Leverage, StopLossPrice: pos.StopLossPrice.String(),
		TakeProfitPrice: takeProfit, InvalidationConds: conds,
		State: string(pos.State), OpenedAt: pos.OpenedAt, ClosedAt: pos.ClosedAt,
		RealizedPnL: pos.RealizedPnL.String(), UnrealizedPnL: pos.UnrealizedPnL.String(),
		L1OrderID: pos.L1OrderID, SourceSignalSymbol: pos.SourceSignalSymbol, CycleID: pos.CycleID,
	}
}

func fromRow(r positionRow) types.Position {
	var takeProfit *decimal.Decimal
	if r.TakeProfitPrice != nil {
		d := decOrZero(*r.TakeProfitPrice)
		takeProfit = &d
	}
	var conds []types.InvalidationCondition
	if r.InvalidationConds != "" {
		start := 0
		for i := 0; i <= len(r.InvalidationConds); i++ {
			if i == len(r.InvalidationConds) || r.InvalidationConds[i] == '\n' {
				conds = append(conds, types.InvalidationCondition{Raw: r.InvalidationConds[start:i]})
				start = i + 1
			}
		}
	}
	return types.Position{
		ID: r.ID, Symbol: r.Symbol, Side: types.Side(r.Side),
		Quantity: decOrZero(r.Quantity), EntryPrice: decOrZero(r.EntryPrice),
		Leverage: r.Leverage, StopLossPrice: decOrZero(r.StopLossPrice),
		TakeProfitPrice: takeProfit, InvalidationConds: conds,
		State: types.PositionState(r.State), OpenedAt: r.OpenedAt, ClosedAt: r.ClosedAt,
		RealizedPnL: decOrZero(r.RealizedPnL), UnrealizedPnL: decOrZero(r.UnrealizedPnL),
		L1OrderID: r.L1OrderID, SourceSignalSymbol: r.SourceSignalSymbol, CycleID: r.CycleID,
	}
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
