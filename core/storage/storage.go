package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"

	"srishti/core/block"
)

// Key layout:
//
//	block:%010d   full block JSON by index
//	header:%010d  header JSON by index (light-client view)
//	meta:<key>    arbitrary bookkeeping values
//	chain_height  number of stored blocks
const (
	blockPrefix  = "block:"
	headerPrefix = "header:"
	metaPrefix   = "meta:"
	heightKey    = "chain_height"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = leveldb.ErrNotFound

// Storage is the LevelDB-backed persistence collaborator for chain, light
// client and karma bookkeeping.
type Storage struct {
	db *leveldb.DB
}

// NewStorage opens (or creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Storage{db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

func blockKey(index int) []byte  { return []byte(fmt.Sprintf("%s%010d", blockPrefix, index)) }
func headerKey(index int) []byte { return []byte(fmt.Sprintf("%s%010d", headerPrefix, index)) }

// SaveBlock persists a block and its header at the given chain index, and
// advances the stored height if this extends the chain.
func (s *Storage) SaveBlock(index int, blk *block.Block) error {
	blockData, err := blk.Serialize()
	if err != nil {
		return err
	}
	headerData, err := json.Marshal(blk.Header)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(index), blockData)
	batch.Put(headerKey(index), headerData)
	height, err := s.ChainHeight()
	if err != nil {
		return err
	}
	if index+1 > height {
		batch.Put([]byte(heightKey), []byte(strconv.Itoa(index+1)))
	}
	return s.db.Write(batch, nil)
}

// GetBlockByIndex loads a block by chain index.
func (s *Storage) GetBlockByIndex(index int) (*block.Block, error) {
	data, err := s.db.Get(blockKey(index), nil)
	if err != nil {
		return nil, err
	}
	return block.Deserialize(data)
}

// HasGenesisBlock reports whether block 0 exists.
func (s *Storage) HasGenesisBlock() (bool, error) {
	ok, err := s.db.Has(blockKey(0), nil)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ChainHeight returns the number of stored blocks.
func (s *Storage) ChainHeight() (int, error) {
	data, err := s.db.Get([]byte(heightKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// SaveHeader persists a single header, for light clients that never see
// bodies.
func (s *Storage) SaveHeader(index int, h block.Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.db.Put(headerKey(index), data, nil)
}

// GetAllHeaders returns every stored header in index order.
func (s *Storage) GetAllHeaders() ([]block.Header, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	byIndex := map[int]block.Header{}
	for iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, []byte(headerPrefix)) {
			continue
		}
		index, err := strconv.Atoi(string(key[len(headerPrefix):]))
		if err != nil {
			continue
		}
		var h block.Header
		if err := json.Unmarshal(iter.Value(), &h); err != nil {
			return nil, fmt.Errorf("storage: corrupt header at %d: %w", index, err)
		}
		byIndex[index] = h
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	headers := make([]block.Header, 0, len(indexes))
	for _, i := range indexes {
		headers = append(headers, byIndex[i])
	}
	return headers, nil
}

// GetMetadata reads a bookkeeping value; (nil, nil) when absent.
func (s *Storage) GetMetadata(key string) ([]byte, error) {
	data, err := s.db.Get([]byte(metaPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SaveMetadata writes a bookkeeping value.
func (s *Storage) SaveMetadata(key string, value []byte) error {
	return s.db.Put([]byte(metaPrefix+key), value, nil)
}

// Truncate removes every block and header at or above index and rewinds the
// stored height. Used during wholesale chain replacement.
func (s *Storage) Truncate(fromIndex int) error {
	height, err := s.ChainHeight()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for i := fromIndex; i < height; i++ {
		batch.Delete(blockKey(i))
		batch.Delete(headerKey(i))
	}
	if fromIndex < height {
		batch.Put([]byte(heightKey), []byte(strconv.Itoa(fromIndex)))
	}
	return s.db.Write(batch, nil)
}

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}
