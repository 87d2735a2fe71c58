package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/swarmstats/indexer/internal/decoder"
	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// sqliteBackend is the "backend" label sqliteStore reports errors under.
const sqliteBackend = "sqlite"

// maxVersionCASAttempts bounds retries when UpdateTopFunders races the
// ingestion engine's own version compare-and-set on the same address row.
const maxVersionCASAttempts = 5

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

func sqliteMigrations() ([]Migration, error) {
	entries, err := sqliteMigrationsFS.ReadDir("migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("read sqlite migrations: %w", err)
	}
	migrations := make([]Migration, 0, len(entries))
	for _, e := range entries {
		data, err := sqliteMigrationsFS.ReadFile("migrations/sqlite/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{ID: e.Name(), SQL: string(data)})
	}
	return migrations, nil
}

// sqliteStore is the embedded, single-file storage back-end: go-sqlite3 +
// sql-migrate, with its own WAL-checkpoint/VACUUM maintenance coordinator.
type sqliteStore struct {
	sqlDB       *sql.DB
	maintenance Maintenance
}

func openSQLite(ctx context.Context, cfg pkgconfig.DatabaseConfig, maintCfg *pkgconfig.MaintenanceConfig, log *logger.Logger) (Store, error) {
	migrations, err := sqliteMigrations()
	if err != nil {
		return nil, err
	}
	if err := runSQLiteMigrations(cfg.ConnectionString, migrations); err != nil {
		return nil, fmt.Errorf("run sqlite migrations: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_journal_mode=%s&_busy_timeout=%d",
		cfg.ConnectionString, cfg.JournalMode, cfg.BusyTimeout)
	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	maintenance := newMaintenanceCoordinator(cfg.ConnectionString, sqlDB, maintCfg, log)
	if err := maintenance.Start(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("start maintenance: %w", err)
	}

	return &sqliteStore{sqlDB: sqlDB, maintenance: maintenance}, nil
}

func (s *sqliteStore) Close() error {
	_ = s.maintenance.Stop()
	return s.sqlDB.Close()
}

func (s *sqliteStore) WithinChunk(ctx context.Context, fn func(ChunkWriter) error) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		metrics.StorageError(sqliteBackend, "begin_chunk")
		return fmt.Errorf("begin chunk transaction: %w", err)
	}

	writer := &sqliteChunkWriter{tx: tx}
	if err := fn(writer); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			metrics.StorageError(sqliteBackend, "rollback_chunk")
			return fmt.Errorf("chunk failed: %w (rollback also failed: %v)", err, rbErr)
		}
		metrics.StorageError(sqliteBackend, "chunk_write")
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.StorageError(sqliteBackend, "commit_chunk")
		return fmt.Errorf("commit chunk transaction: %w", err)
	}
	return nil
}

func (s *sqliteStore) ChunkProcessed(ctx context.Context, chunkHash string) (bool, error) {
	var count int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_cache WHERE chunk_hash = ?`, chunkHash).Scan(&count)
	if err != nil {
		metrics.StorageError(sqliteBackend, "chunk_processed")
		return false, fmt.Errorf("check chunk cache: %w", err)
	}
	return count > 0, nil
}

func (s *sqliteStore) SetKV(ctx context.Context, key, value string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		metrics.StorageError(sqliteBackend, "set_kv")
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		metrics.StorageError(sqliteBackend, "get_kv")
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteStore) GetTxDetail(ctx context.Context, txHash common.Hash) (*TxDetail, bool, error) {
	var row dbTxDetail
	err := meddler.QueryRow(s.sqlDB, &row, `SELECT * FROM transaction_details WHERE transaction_hash = ?`, txHash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StorageError(sqliteBackend, "get_tx_detail")
		return nil, false, fmt.Errorf("get tx detail: %w", err)
	}
	return row.toDomain(), true, nil
}

func (s *sqliteStore) GetAddress(ctx context.Context, address common.Address) (*AddressRecord, bool, error) {
	var row dbAddress
	err := meddler.QueryRow(s.sqlDB, &row, `SELECT * FROM addresses WHERE address = ?`, address.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StorageError(sqliteBackend, "get_address")
		return nil, false, fmt.Errorf("get address: %w", err)
	}
	record, err := row.toDomain()
	if err != nil {
		return nil, false, err
	}

	stampRows, err := s.sqlDB.QueryContext(ctx, `SELECT batch_id FROM address_stamps WHERE address = ?`, address.Hex())
	if err != nil {
		return nil, false, fmt.Errorf("load address stamps: %w", err)
	}
	defer stampRows.Close()
	for stampRows.Next() {
		var batchID string
		if err := stampRows.Scan(&batchID); err != nil {
			return nil, false, fmt.Errorf("scan address stamp: %w", err)
		}
		record.StampIDs = append(record.StampIDs, batchID)
	}
	if err := stampRows.Err(); err != nil {
		return nil, false, err
	}

	fundedRows, err := s.sqlDB.QueryContext(ctx, `SELECT funded_address FROM address_funded WHERE funder_address = ?`, address.Hex())
	if err != nil {
		return nil, false, fmt.Errorf("load funded addresses: %w", err)
	}
	defer fundedRows.Close()
	for fundedRows.Next() {
		var funded string
		if err := fundedRows.Scan(&funded); err != nil {
			return nil, false, fmt.Errorf("scan funded address: %w", err)
		}
		record.FundedAddresses = append(record.FundedAddresses, common.HexToAddress(funded))
	}
	if err := fundedRows.Err(); err != nil {
		return nil, false, err
	}

	return record, true, nil
}

func (s *sqliteStore) AllFundedAddresses(ctx context.Context) ([]common.Address, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT funded_address FROM address_funded`)
	if err != nil {
		metrics.StorageError(sqliteBackend, "all_funded_addresses")
		return nil, fmt.Errorf("all funded addresses: %w", err)
	}
	defer rows.Close()
	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan funded address: %w", err)
		}
		out = append(out, common.HexToAddress(addr))
	}
	return out, rows.Err()
}

func (s *sqliteStore) FundersOf(ctx context.Context, funded common.Address) ([]FunderShare, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT from_address, amount FROM address_interactions
		WHERE to_address = ? AND related_to_stamp = 1
	`, funded.Hex())
	if err != nil {
		metrics.StorageError(sqliteBackend, "funders_of")
		return nil, fmt.Errorf("funders of %s: %w", funded.Hex(), err)
	}
	defer rows.Close()

	totals := make(map[common.Address]*big.Int)
	for rows.Next() {
		var funder, amount string
		if err := rows.Scan(&funder, &amount); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		addr := common.HexToAddress(funder)
		value, err := types.ParseBigUnsigned(amount)
		if err != nil {
			return nil, fmt.Errorf("parse interaction amount from %s: %w", funder, err)
		}
		total, ok := totals[addr]
		if !ok {
			total = new(big.Int)
			totals[addr] = total
		}
		total.Add(total, value.Int())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	shares := make([]FunderShare, 0, len(totals))
	for addr, total := range totals {
		shares = append(shares, FunderShare{Funder: addr, Amount: types.NewBigUnsigned(total).String()})
	}
	return shares, nil
}

func (s *sqliteStore) UpdateTopFunders(ctx context.Context, funded common.Address, topFunders []FunderShare) error {
	encoded, err := json.Marshal(topFunders)
	if err != nil {
		return fmt.Errorf("encode top funders: %w", err)
	}

	for attempt := 0; attempt < maxVersionCASAttempts; attempt++ {
		var version uint64
		err := s.sqlDB.QueryRowContext(ctx, `SELECT version FROM addresses WHERE address = ?`, funded.Hex()).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update top funders: address %s not yet persisted", funded.Hex())
		}
		if err != nil {
			metrics.StorageError(sqliteBackend, "update_top_funders")
			return fmt.Errorf("update top funders: %w", err)
		}

		result, err := s.sqlDB.ExecContext(ctx, `
			UPDATE addresses SET top_funders = ?, version = version + 1 WHERE address = ? AND version = ?
		`, string(encoded), funded.Hex(), version)
		if err != nil {
			metrics.StorageError(sqliteBackend, "update_top_funders")
			return fmt.Errorf("update top funders: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			metrics.StorageError(sqliteBackend, "update_top_funders")
			return fmt.Errorf("update top funders: %w", err)
		}
		if affected > 0 {
			return nil
		}
	}
	metrics.StorageError(sqliteBackend, "update_top_funders")
	return fmt.Errorf("update top funders: %s: exhausted retries under concurrent writes", funded.Hex())
}

func (s *sqliteStore) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM batches),
			(SELECT COUNT(*) FROM addresses),
			(SELECT COUNT(*) FROM stamp_events),
			(SELECT COUNT(*) FROM storage_incentives_events)
	`)
	if err := row.Scan(&out.TotalBatches, &out.TotalAddresses, &out.TotalStampEvents, &out.TotalIncentiveRows); err != nil {
		metrics.StorageError(sqliteBackend, "summary")
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	value, ok, err := s.GetKV(ctx, "last_synced_block")
	if err != nil {
		return Summary{}, err
	}
	if ok {
		if _, err := fmt.Sscanf(value, "%d", &out.LastSyncedBlock); err != nil {
			return Summary{}, fmt.Errorf("parse last_synced_block: %w", err)
		}
	}
	return out, nil
}

func (s *sqliteStore) BatchStatus(ctx context.Context, batchID common.Hash) (*BatchStatus, error) {
	var row dbBatch
	err := meddler.QueryRow(s.sqlDB, &row, `SELECT * FROM batches WHERE batch_id = ?`, batchID.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StorageError(sqliteBackend, "batch_status")
		return nil, fmt.Errorf("batch status: %w", err)
	}
	return row.toStatus(), nil
}

func (s *sqliteStore) ExpiryCandidates(ctx context.Context) ([]ExpiryCandidate, error) {
	var rows []*dbBatch
	if err := meddler.QueryAll(s.sqlDB, &rows, `SELECT * FROM batches ORDER BY block_number ASC`); err != nil {
		metrics.StorageError(sqliteBackend, "expiry_candidates")
		return nil, fmt.Errorf("expiry candidates: %w", err)
	}
	candidates := make([]ExpiryCandidate, len(rows))
	for i, r := range rows {
		candidates[i] = r.toCandidate()
	}
	return candidates, nil
}

func (s *sqliteStore) AddressSummary(ctx context.Context, address common.Address) (*AddressSummary, error) {
	record, ok, err := s.GetAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &AddressSummary{
		Address:              record.Address,
		Classification:       record.Classification,
		TotalStampsPurchased: record.TotalStampsPurchased,
		TotalAmountSpent:     record.TotalAmountSpent,
		TopFunders:           record.TopFunders,
		FundedAddresses:      record.FundedAddresses,
		FirstSeen:            record.FirstSeen,
		LastSeen:             record.LastSeen,
		TransactionCount:     record.TransactionCount,
	}, nil
}

// sqliteChunkWriter is the write surface used inside one chunk transaction.
type sqliteChunkWriter struct {
	tx *sql.Tx
}

func (w *sqliteChunkWriter) UpsertStampEvent(event *decoder.StampEvent) error {
	if err := meddler.Insert(w.tx, "stamp_events", event); err != nil {
		return upsertStampEvent(w.tx, event, err)
	}
	return nil
}

func (w *sqliteChunkWriter) UpsertStorageIncentivesEvent(event *decoder.StorageIncentivesEvent) error {
	if err := meddler.Insert(w.tx, "storage_incentives_events", event); err != nil {
		return upsertIncentivesEvent(w.tx, event, err)
	}
	return nil
}

func (w *sqliteChunkWriter) UpsertBatchCreated(batch BatchRecord) error {
	row := batchRecordToDB(batch)
	_, err := w.tx.Exec(`
		INSERT INTO batches (batch_id, owner_address, payer_address, depth, bucket_depth, immutable_flag,
			normalised_balance, block_number, created_at, contract_family)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			owner_address = excluded.owner_address,
			payer_address = excluded.payer_address,
			depth = excluded.depth,
			bucket_depth = excluded.bucket_depth,
			immutable_flag = excluded.immutable_flag,
			normalised_balance = excluded.normalised_balance,
			block_number = excluded.block_number,
			created_at = excluded.created_at,
			contract_family = excluded.contract_family
	`, row.BatchID, row.OwnerAddress, row.PayerAddress, row.Depth, row.BucketDepth, row.ImmutableFlag,
		row.NormalisedBalance, row.BlockNumber, row.CreatedAt, row.ContractFamily)
	if err != nil {
		return fmt.Errorf("upsert batch created: %w", err)
	}
	return nil
}

func (w *sqliteChunkWriter) ApplyBatchTopUp(batchID common.Hash, normalisedBalance string) error {
	result, err := w.tx.Exec(`UPDATE batches SET normalised_balance = ? WHERE batch_id = ?`,
		normalisedBalance, batchID.Hex())
	if err != nil {
		return fmt.Errorf("apply batch top-up: %w", err)
	}
	return checkBatchMutationAffectedRow(result, batchID)
}

func (w *sqliteChunkWriter) ApplyBatchDepthIncrease(batchID common.Hash, newDepth uint8, normalisedBalance string) error {
	result, err := w.tx.Exec(`UPDATE batches SET depth = ?, normalised_balance = ? WHERE batch_id = ?`,
		newDepth, normalisedBalance, batchID.Hex())
	if err != nil {
		return fmt.Errorf("apply batch depth increase: %w", err)
	}
	return checkBatchMutationAffectedRow(result, batchID)
}

func checkBatchMutationAffectedRow(result sql.Result, batchID common.Hash) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check batch mutation result: %w", err)
	}
	if affected == 0 {
		return &ErrBatchNotFound{BatchID: batchID}
	}
	return nil
}

func (w *sqliteChunkWriter) UpsertAddress(record AddressRecord) error {
	row, err := addressRecordToDB(record)
	if err != nil {
		return err
	}
	result, err := w.tx.Exec(`
		INSERT INTO addresses (address, total_stamps_purchased, total_amount_spent, top_funders, is_funder,
			is_contract, classification, label, notes, first_seen, last_seen, first_block, last_block,
			transaction_count, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			total_stamps_purchased = excluded.total_stamps_purchased,
			total_amount_spent = excluded.total_amount_spent,
			top_funders = excluded.top_funders,
			is_funder = excluded.is_funder,
			is_contract = excluded.is_contract,
			classification = excluded.classification,
			label = excluded.label,
			notes = excluded.notes,
			last_seen = excluded.last_seen,
			last_block = excluded.last_block,
			transaction_count = excluded.transaction_count,
			version = addresses.version + 1
		WHERE addresses.version = ?
	`, row.Address, row.TotalStampsPurchased, row.TotalAmountSpent, row.TopFunders, row.IsFunder,
		row.IsContract, row.Classification, row.Label, row.Notes, row.FirstSeen, row.LastSeen,
		row.FirstBlock, row.LastBlock, row.TransactionCount, row.Version, record.Version)
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check upsert address result: %w", err)
	}
	if affected == 0 {
		return &ErrAddressVersionConflict{Address: record.Address}
	}
	return nil
}

func (w *sqliteChunkWriter) UpsertInteraction(interaction AddressInteraction) error {
	var stampBatchID *string
	if interaction.StampBatchID != nil {
		hex := interaction.StampBatchID.Hex()
		stampBatchID = &hex
	}
	_, err := w.tx.Exec(`
		INSERT INTO address_interactions (from_address, to_address, transaction_hash, amount, block_number,
			block_timestamp, related_to_stamp, stamp_batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash, from_address, to_address) DO UPDATE SET
			amount = excluded.amount,
			related_to_stamp = excluded.related_to_stamp,
			stamp_batch_id = excluded.stamp_batch_id
	`, interaction.From.Hex(), interaction.To.Hex(), interaction.TransactionHash.Hex(), interaction.Amount,
		interaction.BlockNumber, interaction.BlockTimestamp, interaction.RelatedToStamp, stampBatchID)
	if err != nil {
		return fmt.Errorf("upsert interaction: %w", err)
	}
	return nil
}

func (w *sqliteChunkWriter) UpsertTxDetail(detail TxDetail) error {
	row := txDetailToDB(detail)
	if err := meddler.Insert(w.tx, "transaction_details", row); err != nil {
		_, execErr := w.tx.Exec(`
			UPDATE transaction_details SET from_address = ?, to_address = ?, value = ?, gas_price = ?,
				gas_used = ?, block_number = ?, block_timestamp = ?, input_data = ?,
				is_contract_creation = ?, fetched_at = ? WHERE transaction_hash = ?
		`, row.From, row.To, row.Value, row.GasPrice, row.GasUsed, row.BlockNumber, row.BlockTimestamp,
			row.InputData, row.IsContractCreation, row.FetchedAt, row.TransactionHash)
		if execErr != nil {
			return fmt.Errorf("upsert tx detail: insert failed (%v), update failed: %w", err, execErr)
		}
	}
	return nil
}

func (w *sqliteChunkWriter) LinkAddressStamp(address common.Address, batchID common.Hash) error {
	_, err := w.tx.Exec(`
		INSERT INTO address_stamps (address, batch_id) VALUES (?, ?)
		ON CONFLICT(address, batch_id) DO NOTHING
	`, address.Hex(), batchID.Hex())
	if err != nil {
		return fmt.Errorf("link address stamp: %w", err)
	}
	return nil
}

func (w *sqliteChunkWriter) LinkAddressFunded(funder, funded common.Address) error {
	_, err := w.tx.Exec(`
		INSERT INTO address_funded (funder_address, funded_address) VALUES (?, ?)
		ON CONFLICT(funder_address, funded_address) DO NOTHING
	`, funder.Hex(), funded.Hex())
	if err != nil {
		return fmt.Errorf("link address funded: %w", err)
	}
	return nil
}

func (w *sqliteChunkWriter) RecordChunk(entry ChunkCacheEntry) error {
	_, err := w.tx.Exec(`
		INSERT INTO chunk_cache (chunk_hash, contract_address, from_block, to_block, processed_at, event_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_hash) DO NOTHING
	`, entry.ChunkHash, entry.ContractAddress.Hex(), entry.FromBlock, entry.ToBlock, entry.ProcessedAt, entry.EventCount)
	if err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	return nil
}

func (w *sqliteChunkWriter) SetKV(key, value string) error {
	_, err := w.tx.Exec(`
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// upsertStampEvent overwrites an existing (tx_hash, log_index) row per the
// event-upsert rationale in §4.4: the latest decoder output always wins.
func upsertStampEvent(tx *sql.Tx, event *decoder.StampEvent, insertErr error) error {
	_, err := tx.Exec(`
		UPDATE stamp_events SET event_type = ?, batch_id = ?, block_number = ?, block_timestamp = ?,
			contract_source = ?, contract_family = ?, contract_address = ?, owner_address = ?,
			payer_address = ?, from_address = ?, total_amount = ?, topup_amount = ?, normalised_balance = ?,
			depth = ?, bucket_depth = ?, new_depth = ?, immutable_flag = ?
		WHERE transaction_hash = ? AND log_index = ?
	`,
		event.EventType, nullableHash(event.BatchID), event.BlockNumber, event.BlockTimestamp,
		event.ContractSource, event.ContractFamily, event.ContractAddress.Hex(),
		nullableAddress(event.OwnerAddress), nullableAddress(event.PayerAddress), nullableAddress(event.FromAddress),
		event.TotalAmount, event.TopupAmount, event.NormalisedBalance,
		event.Depth, event.BucketDepth, event.NewDepth, event.ImmutableFlag,
		event.TransactionHash.Hex(), event.LogIndex)
	if err != nil {
		return fmt.Errorf("upsert stamp event (insert failed: %v): %w", insertErr, err)
	}
	return nil
}

func upsertIncentivesEvent(tx *sql.Tx, event *decoder.StorageIncentivesEvent, insertErr error) error {
	_, err := tx.Exec(`
		UPDATE storage_incentives_events SET block_number = ?, block_timestamp = ?, contract_source = ?,
			contract_family = ?, contract_address = ?, event_type = ?, round_number = ?, phase = ?,
			owner_address = ?, overlay = ?, price = ?, committed_stake = ?, potential_stake = ?, height = ?,
			slash_amount = ?, freeze_time = ?, withdraw_amount = ?, stake = ?, stake_density = ?,
			reserve_commitment = ?, depth = ?, anchor = ?, truth_hash = ?, truth_depth = ?,
			winner_overlay = ?, winner_owner = ?, winner_depth = ?, winner_stake = ?,
			winner_stake_density = ?, winner_hash = ?, commit_count = ?, reveal_count = ?, chunk_count = ?,
			redundancy_count = ?, chunk_index_in_rc = ?, chunk_address = ?
		WHERE transaction_hash = ? AND log_index = ?
	`,
		event.BlockNumber, event.BlockTimestamp, event.ContractSource, event.ContractFamily,
		event.ContractAddress.Hex(), event.EventType, event.RoundNumber, event.Phase,
		nullableAddress(event.OwnerAddress), nullableHashPtr(event.Overlay), event.Price,
		event.CommittedStake, event.PotentialStake, event.Height, event.SlashAmount, event.FreezeTime,
		event.WithdrawAmount, event.Stake, event.StakeDensity, nullableHashPtr(event.ReserveCommitment),
		event.Depth, nullableHashPtr(event.Anchor), nullableHashPtr(event.TruthHash), event.TruthDepth,
		nullableHashPtr(event.WinnerOverlay), nullableAddress(event.WinnerOwner), event.WinnerDepth,
		event.WinnerStake, event.WinnerStakeDensity, nullableHashPtr(event.WinnerHash),
		event.CommitCount, event.RevealCount, event.ChunkCount, event.RedundancyCount,
		event.ChunkIndexInRC, nullableHashPtr(event.ChunkAddress),
		event.TransactionHash.Hex(), event.LogIndex)
	if err != nil {
		return fmt.Errorf("upsert storage incentives event (insert failed: %v): %w", insertErr, err)
	}
	return nil
}

func nullableHash(h common.Hash) *string {
	if h == (common.Hash{}) {
		return nil
	}
	hex := h.Hex()
	return &hex
}

func nullableHashPtr(h *common.Hash) *string {
	if h == nil {
		return nil
	}
	return nullableHash(*h)
}

func nullableAddress(a *common.Address) *string {
	if a == nil {
		return nil
	}
	hex := a.Hex()
	return &hex
}
