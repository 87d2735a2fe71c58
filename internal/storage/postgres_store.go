package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swarmstats/indexer/internal/decoder"
	"github.com/swarmstats/indexer/internal/metrics"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// postgresBackend is the "backend" label postgresStore reports errors under.
const postgresBackend = "postgres"

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// postgresStore is the networked storage back-end: jackc/pgx/v5 for data
// access, golang-migrate/migrate/v4 for schema migrations, semantically
// equivalent to sqliteStore's schema and command vocabulary.
type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg pkgconfig.DatabaseConfig) (Store, error) {
	if err := runPostgresMigrations(cfg.ConnectionString); err != nil {
		return nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}
	if cfg.MaxOpenConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func runPostgresMigrations(connectionString string) error {
	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, pgxDatabaseURL(connectionString))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// pgxDatabaseURL rewrites a postgres:// or postgresql:// DSN to the pgx5://
// scheme golang-migrate's pgx/v5 database driver registers under.
func pgxDatabaseURL(connectionString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connectionString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connectionString, prefix)
		}
	}
	return connectionString
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) WithinChunk(ctx context.Context, fn func(ChunkWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.StorageError(postgresBackend, "begin_chunk")
		return fmt.Errorf("begin chunk transaction: %w", err)
	}

	writer := &postgresChunkWriter{ctx: ctx, tx: tx}
	if err := fn(writer); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			metrics.StorageError(postgresBackend, "rollback_chunk")
			return fmt.Errorf("chunk failed: %w (rollback also failed: %v)", err, rbErr)
		}
		metrics.StorageError(postgresBackend, "chunk_write")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.StorageError(postgresBackend, "commit_chunk")
		return fmt.Errorf("commit chunk transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) ChunkProcessed(ctx context.Context, chunkHash string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_cache WHERE chunk_hash = $1`, chunkHash).Scan(&count)
	if err != nil {
		metrics.StorageError(postgresBackend, "chunk_processed")
		return false, fmt.Errorf("check chunk cache: %w", err)
	}
	return count > 0, nil
}

func (s *postgresStore) SetKV(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		metrics.StorageError(postgresBackend, "set_kv")
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&value)
	if isPgNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		metrics.StorageError(postgresBackend, "get_kv")
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, true, nil
}

func (s *postgresStore) GetTxDetail(ctx context.Context, txHash common.Hash) (*TxDetail, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_hash, from_address, to_address, value, gas_price, gas_used, block_number,
			block_timestamp, input_data, is_contract_creation, fetched_at
		FROM transaction_details WHERE transaction_hash = $1
	`, txHash.Hex())

	var (
		txHashStr, from string
		to              *string
		value           string
		gasPrice        *string
		gasUsed         *int64
		blockNumber     uint64
		blockTimestamp  time.Time
		inputData       *string
		isCreation      bool
		fetchedAt       time.Time
	)
	err := row.Scan(&txHashStr, &from, &to, &value, &gasPrice, &gasUsed, &blockNumber, &blockTimestamp,
		&inputData, &isCreation, &fetchedAt)
	if isPgNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StorageError(postgresBackend, "get_tx_detail")
		return nil, false, fmt.Errorf("get tx detail: %w", err)
	}

	var toAddr *common.Address
	if to != nil {
		a := common.HexToAddress(*to)
		toAddr = &a
	}
	var gasUsedU64 *uint64
	if gasUsed != nil {
		v := uint64(*gasUsed)
		gasUsedU64 = &v
	}

	return &TxDetail{
		TransactionHash:    common.HexToHash(txHashStr),
		From:               common.HexToAddress(from),
		To:                 toAddr,
		Value:              value,
		GasPrice:           gasPrice,
		GasUsed:            gasUsedU64,
		BlockNumber:        blockNumber,
		BlockTimestamp:     blockTimestamp,
		InputData:          inputData,
		IsContractCreation: isCreation,
		FetchedAt:          fetchedAt,
	}, true, nil
}

func (s *postgresStore) GetAddress(ctx context.Context, address common.Address) (*AddressRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, total_stamps_purchased, total_amount_spent, top_funders, is_funder, is_contract,
			classification, label, notes, first_seen, last_seen, first_block, last_block,
			transaction_count, version
		FROM addresses WHERE address = $1
	`, address.Hex())

	record, err := scanAddressRow(row)
	if isPgNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StorageError(postgresBackend, "get_address")
		return nil, false, fmt.Errorf("get address: %w", err)
	}

	stampRows, err := s.pool.Query(ctx, `SELECT batch_id FROM address_stamps WHERE address = $1`, address.Hex())
	if err != nil {
		return nil, false, fmt.Errorf("load address stamps: %w", err)
	}
	for stampRows.Next() {
		var batchID string
		if err := stampRows.Scan(&batchID); err != nil {
			stampRows.Close()
			return nil, false, fmt.Errorf("scan address stamp: %w", err)
		}
		record.StampIDs = append(record.StampIDs, batchID)
	}
	stampErr := stampRows.Err()
	stampRows.Close()
	if stampErr != nil {
		return nil, false, stampErr
	}

	fundedRows, err := s.pool.Query(ctx, `SELECT funded_address FROM address_funded WHERE funder_address = $1`, address.Hex())
	if err != nil {
		return nil, false, fmt.Errorf("load funded addresses: %w", err)
	}
	for fundedRows.Next() {
		var funded string
		if err := fundedRows.Scan(&funded); err != nil {
			fundedRows.Close()
			return nil, false, fmt.Errorf("scan funded address: %w", err)
		}
		record.FundedAddresses = append(record.FundedAddresses, common.HexToAddress(funded))
	}
	fundedErr := fundedRows.Err()
	fundedRows.Close()
	if fundedErr != nil {
		return nil, false, fundedErr
	}

	return record, true, nil
}

type pgxRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAddressRow(row pgxRowScanner) (*AddressRecord, error) {
	var (
		addr                 string
		totalStampsPurchased uint64
		totalAmountSpent     string
		topFundersJSON       string
		isFunder             bool
		isContract           bool
		classification       string
		label, notes         *string
		firstSeen, lastSeen  time.Time
		firstBlock, lastBlock uint64
		transactionCount     uint64
		version              uint64
	)
	if err := row.Scan(&addr, &totalStampsPurchased, &totalAmountSpent, &topFundersJSON, &isFunder, &isContract,
		&classification, &label, &notes, &firstSeen, &lastSeen, &firstBlock, &lastBlock,
		&transactionCount, &version); err != nil {
		return nil, err
	}

	var topFunders []FunderShare
	if topFundersJSON != "" {
		if err := json.Unmarshal([]byte(topFundersJSON), &topFunders); err != nil {
			return nil, fmt.Errorf("unmarshal top_funders for %s: %w", addr, err)
		}
	}

	return &AddressRecord{
		Address:              common.HexToAddress(addr),
		TotalStampsPurchased: totalStampsPurchased,
		TotalAmountSpent:     totalAmountSpent,
		TopFunders:           topFunders,
		IsFunder:             isFunder,
		IsContract:           isContract,
		Classification:       AddressClassification(classification),
		Label:                label,
		Notes:                notes,
		FirstSeen:            firstSeen,
		LastSeen:             lastSeen,
		FirstBlock:           firstBlock,
		LastBlock:            lastBlock,
		TransactionCount:     transactionCount,
		Version:              version,
	}, nil
}

func (s *postgresStore) AllFundedAddresses(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT funded_address FROM address_funded`)
	if err != nil {
		metrics.StorageError(postgresBackend, "all_funded_addresses")
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

func (s *postgresStore) FundersOf(ctx context.Context, funded common.Address) ([]FunderShare, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_address, amount FROM address_interactions
		WHERE to_address = $1 AND related_to_stamp = TRUE
	`, funded.Hex())
	if err != nil {
		metrics.StorageError(postgresBackend, "funders_of")
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

func (s *postgresStore) UpdateTopFunders(ctx context.Context, funded common.Address, topFunders []FunderShare) error {
	encoded, err := json.Marshal(topFunders)
	if err != nil {
		return fmt.Errorf("encode top funders: %w", err)
	}

	for attempt := 0; attempt < maxVersionCASAttempts; attempt++ {
		var version uint64
		err := s.pool.QueryRow(ctx, `SELECT version FROM addresses WHERE address = $1`, funded.Hex()).Scan(&version)
		if isPgNoRows(err) {
			return fmt.Errorf("update top funders: address %s not yet persisted", funded.Hex())
		}
		if err != nil {
			metrics.StorageError(postgresBackend, "update_top_funders")
			return fmt.Errorf("update top funders: %w", err)
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE addresses SET top_funders = $1, version = version + 1 WHERE address = $2 AND version = $3
		`, string(encoded), funded.Hex(), version)
		if err != nil {
			metrics.StorageError(postgresBackend, "update_top_funders")
			return fmt.Errorf("update top funders: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	metrics.StorageError(postgresBackend, "update_top_funders")
	return fmt.Errorf("update top funders: %s: exhausted retries under concurrent writes", funded.Hex())
}

func (s *postgresStore) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM batches),
			(SELECT COUNT(*) FROM addresses),
			(SELECT COUNT(*) FROM stamp_events),
			(SELECT COUNT(*) FROM storage_incentives_events)
	`).Scan(&out.TotalBatches, &out.TotalAddresses, &out.TotalStampEvents, &out.TotalIncentiveRows)
	if err != nil {
		metrics.StorageError(postgresBackend, "summary")
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

func (s *postgresStore) BatchStatus(ctx context.Context, batchID common.Hash) (*BatchStatus, error) {
	status, err := s.queryBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, nil
	}
	return status.toStatus(), nil
}

func (s *postgresStore) ExpiryCandidates(ctx context.Context) ([]ExpiryCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT batch_id, owner_address, payer_address, depth, bucket_depth, immutable_flag,
			normalised_balance, block_number, created_at, contract_family
		FROM batches ORDER BY block_number ASC
	`)
	if err != nil {
		metrics.StorageError(postgresBackend, "expiry_candidates")
		return nil, fmt.Errorf("expiry candidates: %w", err)
	}
	defer rows.Close()

	var candidates []ExpiryCandidate
	for rows.Next() {
		row, err := scanBatchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		candidates = append(candidates, row.toCandidate())
	}
	return candidates, rows.Err()
}

func (s *postgresStore) AddressSummary(ctx context.Context, address common.Address) (*AddressSummary, error) {
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

func (s *postgresStore) queryBatch(ctx context.Context, batchID common.Hash) (*dbBatch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT batch_id, owner_address, payer_address, depth, bucket_depth, immutable_flag,
			normalised_balance, block_number, created_at, contract_family
		FROM batches WHERE batch_id = $1
	`, batchID.Hex())
	r, err := scanBatchRow(row)
	if isPgNoRows(err) {
		return nil, nil
	}
	if err != nil {
		metrics.StorageError(postgresBackend, "batch_status")
		return nil, err
	}
	return r, nil
}

func scanBatchRow(row pgxRowScanner) (*dbBatch, error) {
	var (
		batchID, owner         string
		payer                  *string
		depth, bucketDepth     uint8
		immutable              bool
		normalisedBalance      string
		blockNumber            uint64
		createdAt              time.Time
		contractFamily         string
	)
	if err := row.Scan(&batchID, &owner, &payer, &depth, &bucketDepth, &immutable, &normalisedBalance,
		&blockNumber, &createdAt, &contractFamily); err != nil {
		return nil, err
	}

	var payerAddr *common.Address
	if payer != nil {
		a := common.HexToAddress(*payer)
		payerAddr = &a
	}

	return &dbBatch{
		BatchID:           common.HexToHash(batchID),
		OwnerAddress:      common.HexToAddress(owner),
		PayerAddress:      payerAddr,
		Depth:             depth,
		BucketDepth:       bucketDepth,
		ImmutableFlag:     immutable,
		NormalisedBalance: normalisedBalance,
		BlockNumber:       blockNumber,
		CreatedAt:         createdAt,
		ContractFamily:    types.ContractFamily(contractFamily),
	}, nil
}

func isPgNoRows(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

// postgresChunkWriter is the write surface used inside one chunk
// transaction against the pgx back-end.
type postgresChunkWriter struct {
	ctx context.Context
	tx  pgx.Tx
}

func (w *postgresChunkWriter) UpsertStampEvent(event *decoder.StampEvent) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO stamp_events (event_type, batch_id, block_number, block_timestamp, transaction_hash,
			log_index, contract_source, contract_family, contract_address, owner_address, payer_address,
			from_address, total_amount, topup_amount, normalised_balance, depth, bucket_depth, new_depth,
			immutable_flag)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (transaction_hash, log_index) DO UPDATE SET
			event_type = excluded.event_type, batch_id = excluded.batch_id,
			block_number = excluded.block_number, block_timestamp = excluded.block_timestamp,
			contract_source = excluded.contract_source, contract_family = excluded.contract_family,
			contract_address = excluded.contract_address, owner_address = excluded.owner_address,
			payer_address = excluded.payer_address, from_address = excluded.from_address,
			total_amount = excluded.total_amount, topup_amount = excluded.topup_amount,
			normalised_balance = excluded.normalised_balance, depth = excluded.depth,
			bucket_depth = excluded.bucket_depth, new_depth = excluded.new_depth,
			immutable_flag = excluded.immutable_flag
	`,
		event.EventType, nullableHash(event.BatchID), event.BlockNumber, event.BlockTimestamp,
		event.TransactionHash.Hex(), event.LogIndex, event.ContractSource, event.ContractFamily,
		event.ContractAddress.Hex(), nullableAddress(event.OwnerAddress), nullableAddress(event.PayerAddress),
		nullableAddress(event.FromAddress), event.TotalAmount, event.TopupAmount, event.NormalisedBalance,
		event.Depth, event.BucketDepth, event.NewDepth, event.ImmutableFlag)
	if err != nil {
		return fmt.Errorf("upsert stamp event: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) UpsertStorageIncentivesEvent(event *decoder.StorageIncentivesEvent) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO storage_incentives_events (block_number, block_timestamp, transaction_hash, log_index,
			contract_source, contract_family, contract_address, event_type, round_number, phase,
			owner_address, overlay, price, committed_stake, potential_stake, height, slash_amount,
			freeze_time, withdraw_amount, stake, stake_density, reserve_commitment, depth, anchor,
			truth_hash, truth_depth, winner_overlay, winner_owner, winner_depth, winner_stake,
			winner_stake_density, winner_hash, commit_count, reveal_count, chunk_count, redundancy_count,
			chunk_index_in_rc, chunk_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,
			$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38)
		ON CONFLICT (transaction_hash, log_index) DO UPDATE SET
			block_number = excluded.block_number, block_timestamp = excluded.block_timestamp,
			contract_source = excluded.contract_source, contract_family = excluded.contract_family,
			contract_address = excluded.contract_address, event_type = excluded.event_type,
			round_number = excluded.round_number, phase = excluded.phase, owner_address = excluded.owner_address,
			overlay = excluded.overlay, price = excluded.price, committed_stake = excluded.committed_stake,
			potential_stake = excluded.potential_stake, height = excluded.height,
			slash_amount = excluded.slash_amount, freeze_time = excluded.freeze_time,
			withdraw_amount = excluded.withdraw_amount, stake = excluded.stake,
			stake_density = excluded.stake_density, reserve_commitment = excluded.reserve_commitment,
			depth = excluded.depth, anchor = excluded.anchor, truth_hash = excluded.truth_hash,
			truth_depth = excluded.truth_depth, winner_overlay = excluded.winner_overlay,
			winner_owner = excluded.winner_owner, winner_depth = excluded.winner_depth,
			winner_stake = excluded.winner_stake, winner_stake_density = excluded.winner_stake_density,
			winner_hash = excluded.winner_hash, commit_count = excluded.commit_count,
			reveal_count = excluded.reveal_count, chunk_count = excluded.chunk_count,
			redundancy_count = excluded.redundancy_count, chunk_index_in_rc = excluded.chunk_index_in_rc,
			chunk_address = excluded.chunk_address
	`,
		event.BlockNumber, event.BlockTimestamp, event.TransactionHash.Hex(), event.LogIndex,
		event.ContractSource, event.ContractFamily, event.ContractAddress.Hex(), event.EventType,
		event.RoundNumber, event.Phase, nullableAddress(event.OwnerAddress), nullableHashPtr(event.Overlay),
		event.Price, event.CommittedStake, event.PotentialStake, event.Height, event.SlashAmount,
		event.FreezeTime, event.WithdrawAmount, event.Stake, event.StakeDensity,
		nullableHashPtr(event.ReserveCommitment), event.Depth, nullableHashPtr(event.Anchor),
		nullableHashPtr(event.TruthHash), event.TruthDepth, nullableHashPtr(event.WinnerOverlay),
		nullableAddress(event.WinnerOwner), event.WinnerDepth, event.WinnerStake, event.WinnerStakeDensity,
		nullableHashPtr(event.WinnerHash), event.CommitCount, event.RevealCount, event.ChunkCount,
		event.RedundancyCount, event.ChunkIndexInRC, nullableHashPtr(event.ChunkAddress))
	if err != nil {
		return fmt.Errorf("upsert storage incentives event: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) UpsertBatchCreated(batch BatchRecord) error {
	row := batchRecordToDB(batch)
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO batches (batch_id, owner_address, payer_address, depth, bucket_depth, immutable_flag,
			normalised_balance, block_number, created_at, contract_family)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (batch_id) DO UPDATE SET
			owner_address = excluded.owner_address, payer_address = excluded.payer_address,
			depth = excluded.depth, bucket_depth = excluded.bucket_depth,
			immutable_flag = excluded.immutable_flag, normalised_balance = excluded.normalised_balance,
			block_number = excluded.block_number, created_at = excluded.created_at,
			contract_family = excluded.contract_family
	`, row.BatchID, row.OwnerAddress, row.PayerAddress, row.Depth, row.BucketDepth, row.ImmutableFlag,
		row.NormalisedBalance, row.BlockNumber, row.CreatedAt, row.ContractFamily)
	if err != nil {
		return fmt.Errorf("upsert batch created: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) ApplyBatchTopUp(batchID common.Hash, normalisedBalance string) error {
	result, err := w.tx.Exec(w.ctx, `UPDATE batches SET normalised_balance = $1 WHERE batch_id = $2`,
		normalisedBalance, batchID.Hex())
	if err != nil {
		return fmt.Errorf("apply batch top-up: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &ErrBatchNotFound{BatchID: batchID}
	}
	return nil
}

func (w *postgresChunkWriter) ApplyBatchDepthIncrease(batchID common.Hash, newDepth uint8, normalisedBalance string) error {
	result, err := w.tx.Exec(w.ctx, `UPDATE batches SET depth = $1, normalised_balance = $2 WHERE batch_id = $3`,
		newDepth, normalisedBalance, batchID.Hex())
	if err != nil {
		return fmt.Errorf("apply batch depth increase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &ErrBatchNotFound{BatchID: batchID}
	}
	return nil
}

func (w *postgresChunkWriter) UpsertAddress(record AddressRecord) error {
	row, err := addressRecordToDB(record)
	if err != nil {
		return err
	}
	tag, err := w.tx.Exec(w.ctx, `
		INSERT INTO addresses (address, total_stamps_purchased, total_amount_spent, top_funders, is_funder,
			is_contract, classification, label, notes, first_seen, last_seen, first_block, last_block,
			transaction_count, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (address) DO UPDATE SET
			total_stamps_purchased = excluded.total_stamps_purchased,
			total_amount_spent = excluded.total_amount_spent, top_funders = excluded.top_funders,
			is_funder = excluded.is_funder, is_contract = excluded.is_contract,
			classification = excluded.classification, label = excluded.label, notes = excluded.notes,
			last_seen = excluded.last_seen, last_block = excluded.last_block,
			transaction_count = excluded.transaction_count, version = addresses.version + 1
		WHERE addresses.version = $16
	`, row.Address, row.TotalStampsPurchased, row.TotalAmountSpent, row.TopFunders, row.IsFunder,
		row.IsContract, row.Classification, row.Label, row.Notes, row.FirstSeen, row.LastSeen,
		row.FirstBlock, row.LastBlock, row.TransactionCount, row.Version, record.Version)
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrAddressVersionConflict{Address: record.Address}
	}
	return nil
}

func (w *postgresChunkWriter) UpsertInteraction(interaction AddressInteraction) error {
	var stampBatchID *string
	if interaction.StampBatchID != nil {
		hex := interaction.StampBatchID.Hex()
		stampBatchID = &hex
	}
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO address_interactions (from_address, to_address, transaction_hash, amount, block_number,
			block_timestamp, related_to_stamp, stamp_batch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (transaction_hash, from_address, to_address) DO UPDATE SET
			amount = excluded.amount, related_to_stamp = excluded.related_to_stamp,
			stamp_batch_id = excluded.stamp_batch_id
	`, interaction.From.Hex(), interaction.To.Hex(), interaction.TransactionHash.Hex(), interaction.Amount,
		interaction.BlockNumber, interaction.BlockTimestamp, interaction.RelatedToStamp, stampBatchID)
	if err != nil {
		return fmt.Errorf("upsert interaction: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) UpsertTxDetail(detail TxDetail) error {
	row := txDetailToDB(detail)
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO transaction_details (transaction_hash, from_address, to_address, value, gas_price,
			gas_used, block_number, block_timestamp, input_data, is_contract_creation, fetched_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (transaction_hash) DO UPDATE SET
			from_address = excluded.from_address, to_address = excluded.to_address,
			value = excluded.value, gas_price = excluded.gas_price, gas_used = excluded.gas_used,
			block_number = excluded.block_number, block_timestamp = excluded.block_timestamp,
			input_data = excluded.input_data, is_contract_creation = excluded.is_contract_creation,
			fetched_at = excluded.fetched_at
	`, row.TransactionHash.Hex(), row.From.Hex(), nullableAddress(row.To), row.Value, row.GasPrice,
		row.GasUsed, row.BlockNumber, row.BlockTimestamp, row.InputData, row.IsContractCreation, row.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert tx detail: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) LinkAddressStamp(address common.Address, batchID common.Hash) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO address_stamps (address, batch_id) VALUES ($1, $2)
		ON CONFLICT (address, batch_id) DO NOTHING
	`, address.Hex(), batchID.Hex())
	if err != nil {
		return fmt.Errorf("link address stamp: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) LinkAddressFunded(funder, funded common.Address) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO address_funded (funder_address, funded_address) VALUES ($1, $2)
		ON CONFLICT (funder_address, funded_address) DO NOTHING
	`, funder.Hex(), funded.Hex())
	if err != nil {
		return fmt.Errorf("link address funded: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) RecordChunk(entry ChunkCacheEntry) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO chunk_cache (chunk_hash, contract_address, from_block, to_block, processed_at, event_count)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (chunk_hash) DO NOTHING
	`, entry.ChunkHash, entry.ContractAddress.Hex(), entry.FromBlock, entry.ToBlock, entry.ProcessedAt, entry.EventCount)
	if err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	return nil
}

func (w *postgresChunkWriter) SetKV(key, value string) error {
	_, err := w.tx.Exec(w.ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}
