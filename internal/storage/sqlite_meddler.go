package storage

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", hashMeddler{})
	meddler.Register("address", addressMeddler{})
}

// hashMeddler converts between common.Hash and its hex string column,
// nullable through *common.Hash fields.
type hashMeddler struct{}

func (hashMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(sql.NullString), nil
}

func (hashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("hash meddler: expected *sql.NullString, got %T", scanTarget)
	}
	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		h := common.HexToHash(ns.String)
		*ptr = &h
		return nil
	case *common.Hash:
		if ns.Valid {
			*ptr = common.HexToHash(ns.String)
		}
		return nil
	default:
		return fmt.Errorf("hash meddler: expected *common.Hash or **common.Hash, got %T", fieldAddr)
	}
}

func (hashMeddler) PreWrite(field interface{}) (interface{}, error) {
	switch v := field.(type) {
	case *common.Hash:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Hash:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("hash meddler: expected common.Hash or *common.Hash, got %T", field)
	}
}

// addressMeddler converts between common.Address and its hex string
// column, nullable through *common.Address fields.
type addressMeddler struct{}

func (addressMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(sql.NullString), nil
}

func (addressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("address meddler: expected *sql.NullString, got %T", scanTarget)
	}
	switch ptr := fieldAddr.(type) {
	case **common.Address:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		a := common.HexToAddress(ns.String)
		*ptr = &a
		return nil
	case *common.Address:
		if ns.Valid {
			*ptr = common.HexToAddress(ns.String)
		}
		return nil
	default:
		return fmt.Errorf("address meddler: expected *common.Address or **common.Address, got %T", fieldAddr)
	}
}

func (addressMeddler) PreWrite(field interface{}) (interface{}, error) {
	switch v := field.(type) {
	case *common.Address:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Address:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("address meddler: expected common.Address or *common.Address, got %T", field)
	}
}
