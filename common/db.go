package common

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type DB struct {
	dbh *sql.DB

	// prepared statements
	updateOperator *sql.Stmt
	insertUsageLog *sql.Stmt
}

var schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key STRING PRIMARY KEY,
		value STRING,
		updatedAt STRING DEFAULT CURRENT_TIMESTAMP
	);
	INSERT OR IGNORE INTO kv(key, value) VALUES('dbVersion', '{{ . }}');

	CREATE TABLE IF NOT EXISTS operators (
		createdAt TEXT DEFAULT CURRENT_TIMESTAMP NOT NULL,
		updatedAt TEXT DEFAULT CURRENT_TIMESTAMP NOT NULL,
		ethereumAddr TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL DEFAULT '',
		supportedModels TEXT NOT NULL DEFAULT '[]',
		stakeAmount TEXT NOT NULL DEFAULT '0',
		performanceScore REAL NOT NULL DEFAULT 0,
		stakeWeight REAL NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS usageLog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		createdAt INTEGER NOT NULL,
		operatorAddr TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		inputTokens INTEGER NOT NULL DEFAULT 0,
		outputTokens INTEGER NOT NULL DEFAULT 0,
		latencyMs INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT 0,
		synced BOOLEAN NOT NULL DEFAULT 0,
		batchID TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_usageLog_unsynced ON usageLog(synced) WHERE synced = 0;
	CREATE INDEX IF NOT EXISTS idx_usageLog_operatorAddr ON usageLog(operatorAddr);
`

// LatestDBVersion is stored in the kv table the first time the schema is created
var LatestDBVersion = 1

func InitDB(dbPath string) (*DB, error) {
	// XXX need a way to ensure (via unit tests?) that all DB{} fields are
	// properly closed / cleaned up in the case of an error
	d := DB{}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		glog.Error("Unable to open DB ", dbPath, err)
		return nil, err
	}
	d.dbh = db
	schemaBuf := new(bytes.Buffer)
	tmpl := template.Must(template.New("schema").Parse(schema))
	if err := tmpl.Execute(schemaBuf, LatestDBVersion); err != nil {
		d.Close()
		return nil, err
	}
	_, err = db.Exec(schemaBuf.String())
	if err != nil {
		glog.Error("Error initializing schema ", err)
		d.Close()
		return nil, err
	}

	// updateOperator prepared statement
	stmt, err := db.Prepare(`
	INSERT INTO operators(updatedAt, ethereumAddr, endpoint, supportedModels, stakeAmount, performanceScore, stakeWeight, active)
	VALUES(datetime(), :ethereumAddr, :endpoint, :supportedModels, :stakeAmount, :performanceScore, :stakeWeight, :active)
	ON CONFLICT(ethereumAddr) DO UPDATE SET
		updatedAt = excluded.updatedAt,
		endpoint = excluded.endpoint,
		supportedModels = excluded.supportedModels,
		stakeAmount = excluded.stakeAmount,
		performanceScore = excluded.performanceScore,
		stakeWeight = excluded.stakeWeight,
		active = excluded.active
	`)
	if err != nil {
		glog.Error("Unable to prepare updateOperator stmt ", err)
		d.Close()
		return nil, err
	}
	d.updateOperator = stmt

	// insertUsageLog prepared statement
	stmt, err = db.Prepare(`
	INSERT INTO usageLog(createdAt, operatorAddr, model, inputTokens, outputTokens, latencyMs, success, synced)
	VALUES(:createdAt, :operatorAddr, :model, :inputTokens, :outputTokens, :latencyMs, :success, 0)
	`)
	if err != nil {
		glog.Error("Unable to prepare insertUsageLog stmt ", err)
		d.Close()
		return nil, err
	}
	d.insertUsageLog = stmt

	glog.V(DEBUG).Info("Initialized DB node")
	return &d, nil
}

func (db *DB) Close() {
	glog.V(DEBUG).Info("Closing DB")
	if db.updateOperator != nil {
		db.updateOperator.Close()
	}
	if db.insertUsageLog != nil {
		db.insertUsageLog.Close()
	}
	if db.dbh != nil {
		db.dbh.Close()
	}
}

// UpdateOperator inserts the operator or replaces every cached field of an existing row.
func (db *DB) UpdateOperator(op *DBOperator) error {
	if db == nil || op == nil {
		return nil
	}
	if op.EthereumAddr == "" {
		return errors.New("operator has no ethereum address")
	}

	models := op.SupportedModels
	if models == nil {
		models = []string{}
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return errors.Wrap(err, "could not encode supported models")
	}
	stake := op.StakeAmount
	if stake == "" {
		stake = "0"
	}

	_, err = db.updateOperator.Exec(
		sql.Named("ethereumAddr", strings.ToLower(op.EthereumAddr)),
		sql.Named("endpoint", op.Endpoint),
		sql.Named("supportedModels", string(modelsJSON)),
		sql.Named("stakeAmount", stake),
		sql.Named("performanceScore", op.PerformanceScore),
		sql.Named("stakeWeight", op.StakeWeight),
		sql.Named("active", op.Active),
	)
	if err != nil {
		glog.Errorf("db: Unable to update operator %v err=%q", op.EthereumAddr, err)
		return errors.Wrapf(err, "could not update operator %v", op.EthereumAddr)
	}
	return nil
}

// SelectOperators returns the cached operator rows matching the filter.
func (db *DB) SelectOperators(filter *DBOperatorFilter) ([]*DBOperator, error) {
	if db == nil {
		return nil, nil
	}

	qry, args := buildSelectOperatorsQuery(filter)
	rows, err := db.dbh.Query(qry, args...)
	if err != nil {
		glog.Error("db: Unable to select operators ", err)
		return nil, errors.Wrap(err, "could not select operators")
	}
	defer rows.Close()

	var ops []*DBOperator
	for rows.Next() {
		var (
			addr, endpoint, models, stake, updatedAt string
			perfScore, weight                        float64
			active                                   bool
		)
		if err := rows.Scan(&addr, &endpoint, &models, &stake, &perfScore, &weight, &active, &updatedAt); err != nil {
			glog.Error("db: Unable to fetch operator ", err)
			continue
		}
		op := &DBOperator{
			EthereumAddr:     addr,
			Endpoint:         endpoint,
			StakeAmount:      stake,
			PerformanceScore: perfScore,
			StakeWeight:      weight,
			Active:           active,
		}
		if err := json.Unmarshal([]byte(models), &op.SupportedModels); err != nil {
			glog.Errorf("db: Invalid supported models for operator %v err=%q", addr, err)
		}
		if t, err := time.Parse("2006-01-02 15:04:05", updatedAt); err == nil {
			op.UpdatedAt = t
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func buildSelectOperatorsQuery(filter *DBOperatorFilter) (string, []interface{}) {
	qry := "SELECT ethereumAddr, endpoint, supportedModels, stakeAmount, performanceScore, stakeWeight, active, updatedAt FROM operators"
	var (
		conds []string
		args  []interface{}
	)
	if filter != nil {
		if filter.ActiveOnly {
			conds = append(conds, "active = 1")
		}
		if len(filter.Addresses) > 0 {
			placeholders := make([]string, len(filter.Addresses))
			for i, addr := range filter.Addresses {
				placeholders[i] = "?"
				args = append(args, strings.ToLower(addr.Hex()))
			}
			conds = append(conds, "ethereumAddr IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	if len(conds) > 0 {
		qry += " WHERE " + strings.Join(conds, " AND ")
	}
	return qry + " ORDER BY ethereumAddr", args
}

// InsertUsageLog stores one usage record with synced=false and returns its row id.
func (db *DB) InsertUsageLog(rec *UsageLogRecord) (int64, error) {
	if db == nil || rec == nil {
		return 0, nil
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := db.insertUsageLog.Exec(
		sql.Named("createdAt", createdAt.UnixMilli()),
		sql.Named("operatorAddr", strings.ToLower(rec.OperatorAddress)),
		sql.Named("model", rec.Model),
		sql.Named("inputTokens", rec.InputTokens),
		sql.Named("outputTokens", rec.OutputTokens),
		sql.Named("latencyMs", rec.LatencyMs),
		sql.Named("success", rec.Success),
	)
	if err != nil {
		glog.Errorf("db: Unable to insert usage log for operator %v err=%q", rec.OperatorAddress, err)
		return 0, errors.Wrap(err, "could not insert usage log")
	}
	return res.LastInsertId()
}

// MarkUsageLogsSynced flags the given rows as committed to the ledger in the batch batchID.
func (db *DB) MarkUsageLogsSynced(ids []int64, batchID string) error {
	if db == nil || len(ids) == 0 {
		return nil
	}

	tx, err := db.dbh.Begin()
	if err != nil {
		return errors.Wrap(err, "could not begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE usageLog SET synced = 1, batchID = ? WHERE id = ?")
	if err != nil {
		return errors.Wrap(err, "could not prepare mark synced stmt")
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(batchID, id); err != nil {
			return errors.Wrapf(err, "could not mark usage log id=%d synced", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit mark synced tx")
	}
	glog.V(DEBUG).Infof("db: Marked %d usage logs synced batch=%v", len(ids), batchID)
	return nil
}

// UnsyncedUsageLogs returns up to limit rows that were never committed to the ledger, oldest first.
func (db *DB) UnsyncedUsageLogs(limit int) ([]*UsageLogRecord, error) {
	if db == nil {
		return nil, nil
	}
	rows, err := db.dbh.Query(`
	SELECT id, createdAt, operatorAddr, model, inputTokens, outputTokens, latencyMs, success
	FROM usageLog WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not query unsynced usage logs")
	}
	defer rows.Close()

	var recs []*UsageLogRecord
	for rows.Next() {
		var (
			rec       UsageLogRecord
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &createdAt, &rec.OperatorAddress, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &rec.LatencyMs, &rec.Success); err != nil {
			return nil, errors.Wrap(err, "could not scan usage log")
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
