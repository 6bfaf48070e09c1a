package jobs

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerwatch/log/v3"
	"golang.org/x/crypto/blake2b"

	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/nodeclient"
	"github.com/polkascan/harvester/internal/scale"
	"github.com/polkascan/harvester/internal/store"
)

// RetrieveBlocks is the Retrieve-Blocks job (§4.2): it mirrors finalized
// block headers, extrinsics, and digest logs from the live node into the
// raw node layer, one block per committed transaction.
type RetrieveBlocks struct {
	DB     *store.Store
	Node   *nodeclient.Client
	Logger log.Logger
}

func trimHex(s string) string { return strings.TrimPrefix(s, "0x") }

// Run ingests every finalized block not yet present in NodeBlockHeader.
func (j *RetrieveBlocks) Run(ctx context.Context, interrupt *InterruptToken) error {
	logPrefix := "retrieve_blocks"
	j.Logger.Info(fmt.Sprintf("[%s] starting stage", logPrefix))
	defer j.Logger.Info(fmt.Sprintf("[%s] finished stage", logPrefix))

	finalizedHashHex, err := j.Node.ChainGetFinalizedHead()
	if err != nil {
		return fmt.Errorf("%s: chain_getFinalizedHead: %w", logPrefix, err)
	}
	chainHeadHashHex, err := j.Node.ChainGetHead()
	if err != nil {
		return fmt.Errorf("%s: chain_getHead: %w", logPrefix, err)
	}

	finalizedBlock, err := j.blockNumberForHash(finalizedHashHex)
	if err != nil {
		return err
	}
	chainHeadBlock, err := j.blockNumberForHash(chainHeadHashHex)
	if err != nil {
		return err
	}

	if err := j.recordChainTip(ctx, chainHeadHashHex, chainHeadBlock, finalizedHashHex, finalizedBlock); err != nil {
		return err
	}

	next, err := j.nextBlockNumber(ctx)
	if err != nil {
		return err
	}

	for n := next; n <= finalizedBlock; n++ {
		if interrupt.Requested() {
			j.Logger.Info(fmt.Sprintf("[%s] interrupt requested, stopping before block %d", logPrefix, n))
			return nil
		}
		start := time.Now()
		if err := j.ingestBlock(ctx, n); err != nil {
			return fmt.Errorf("%s: block %d: %w", logPrefix, n, err)
		}
		metrics.TimeBlock(start)
	}
	return nil
}

func (j *RetrieveBlocks) blockNumberForHash(hashHex string) (uint64, error) {
	block, err := j.Node.ChainGetBlock(hashHex)
	if err != nil {
		return 0, fmt.Errorf("retrieve_blocks: chain_getBlock(%s): %w", hashHex, err)
	}
	n, err := strconv.ParseUint(trimHex(block.Block.Header.Number), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("retrieve_blocks: parse block number %q: %w", block.Block.Header.Number, err)
	}
	return n, nil
}

func (j *RetrieveBlocks) recordChainTip(ctx context.Context, chainHeadHex string, chainHeadBlock uint64, finalizedHex string, finalizedBlock uint64) error {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SetStatus(ctx, model.StatusChainTipHash, chainHeadHex); err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, model.StatusChainTipBlockNumber, strconv.FormatUint(chainHeadBlock, 10)); err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, model.StatusFinalizationHash, finalizedHex); err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, model.StatusFinalizationBlockNum, strconv.FormatUint(finalizedBlock, 10)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (j *RetrieveBlocks) nextBlockNumber(ctx context.Context) (uint64, error) {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	return tx.NextNodeBlockHeaderNumber(ctx)
}

// ingestBlock implements §4.2 steps 1-6 for a single block number.
func (j *RetrieveBlocks) ingestBlock(ctx context.Context, n uint64) error {
	blockHashHex, err := j.Node.ChainGetBlockHash(n)
	if err != nil {
		return fmt.Errorf("chain_getBlockHash(%d): %w", n, err)
	}
	blockHash, err := model.HashFromHex(blockHashHex)
	if err != nil {
		return fmt.Errorf("parse block hash %q: %w", blockHashHex, err)
	}
	raw, err := j.Node.ChainGetBlock(blockHashHex)
	if err != nil {
		return fmt.Errorf("chain_getBlock(%s): %w", blockHashHex, err)
	}

	parentHash, err := model.HashFromHex(raw.Block.Header.ParentHash)
	if err != nil {
		return err
	}
	stateRoot, err := model.HashFromHex(raw.Block.Header.StateRoot)
	if err != nil {
		return err
	}
	extrinsicsRoot, err := model.HashFromHex(raw.Block.Header.ExtrinsicsRoot)
	if err != nil {
		return err
	}

	header := model.NodeBlockHeader{
		Hash:            blockHash,
		ParentHash:      parentHash,
		StateRoot:       stateRoot,
		ExtrinsicsRoot:  extrinsicsRoot,
		Number:          scale.EncodeCompactUint64(n),
		BlockNumber:     n,
		CountExtrinsics: uint32(len(raw.Block.Extrinsics)),
		CountLogs:       uint32(len(raw.Block.Header.Digest.Logs)),
	}

	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.InsertNodeBlockHeader(ctx, header); err != nil {
		return fmt.Errorf("insert header: %w", err)
	}

	for idx, extrinsicHex := range raw.Block.Extrinsics {
		full, err := hex.DecodeString(trimHex(extrinsicHex))
		if err != nil {
			return fmt.Errorf("decode extrinsic %d hex: %w", idx, err)
		}
		lengthPrefix, data, _, err := scale.DecodeCompactLengthPrefix(full)
		if err != nil {
			return fmt.Errorf("extrinsic %d compact length: %w", idx, err)
		}
		sum := blake2b.Sum256(full)
		e := model.NodeBlockExtrinsic{
			BlockHash:    blockHash,
			ExtrinsicIdx: uint32(idx),
			BlockNumber:  n,
			Data:         data,
			Length:       lengthPrefix,
			Hash:         model.Hash(sum),
		}
		if err := tx.InsertNodeBlockExtrinsic(ctx, e); err != nil {
			return fmt.Errorf("insert extrinsic %d: %w", idx, err)
		}
	}

	for idx, logHex := range raw.Block.Header.Digest.Logs {
		data, err := hex.DecodeString(trimHex(logHex))
		if err != nil {
			return fmt.Errorf("decode digest log %d hex: %w", idx, err)
		}
		l := model.NodeBlockHeaderDigestLog{
			BlockHash:   blockHash,
			LogIdx:      uint32(idx),
			BlockNumber: n,
			Data:        data,
		}
		if err := tx.InsertNodeBlockHeaderDigestLog(ctx, l); err != nil {
			return fmt.Errorf("insert digest log %d: %w", idx, err)
		}
	}

	if err := tx.SetStatus(ctx, model.StatusProcessBlocksMaxBlockNumber, strconv.FormatUint(n, 10)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
