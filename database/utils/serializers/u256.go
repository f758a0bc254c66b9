package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

var (
	big10              = big.NewInt(10)
	u256BigIntOverflow = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)
	bigIntType         = reflect.TypeOf((*big.Int)(nil))
)

// U256Serializer stores a *big.Int as NUMERIC(78) and rejects anything outside uint256.
type U256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != bigIntType {
		return fmt.Errorf("can only deserialize into a *big.Int: %v", field.FieldType)
	}

	bigInt, err := parseNumeric(dbValue)
	if err != nil {
		return err
	}
	if bigInt.Sign() < 0 || bigInt.Cmp(u256BigIntOverflow) >= 0 {
		return fmt.Errorf("deserialized number outside u256 range: %s", bigInt)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(bigInt))
	return nil
}

func (U256Serializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	} else if field.FieldType != bigIntType {
		return nil, fmt.Errorf("can only serialize a *big.Int: %v", field.FieldType)
	}

	bigIntValue := fieldValue.(*big.Int)
	if bigIntValue.Sign() < 0 {
		return nil, fmt.Errorf("cannot serialize negative big.Int as u256: %s", bigIntValue)
	} else if bigIntValue.Cmp(u256BigIntOverflow) >= 0 {
		return nil, fmt.Errorf("cannot serialize big.Int larger than u256: %s", bigIntValue)
	}

	// 十进制字符串，避免 NUMERIC 的科学计数法
	return bigIntValue.String(), nil
}

// parseNumeric accepts the decimal text postgres returns for NUMERIC and falls back to
// pgtype for anything else.
func parseNumeric(dbValue interface{}) (*big.Int, error) {
	switch v := dbValue.(type) {
	case string:
		return parseDecimal(v)
	case []byte:
		return parseDecimal(string(v))
	}

	numeric := new(pgtype.Numeric)
	if err := numeric.Scan(dbValue); err != nil {
		return nil, fmt.Errorf("failed to scan value as numeric: %w", err)
	}
	if numeric.Status != pgtype.Present || numeric.Int == nil {
		return nil, fmt.Errorf("numeric value is not present: %v", dbValue)
	}
	bigInt := new(big.Int).Set(numeric.Int)
	if numeric.Exp > 0 {
		factor := new(big.Int).Exp(big10, big.NewInt(int64(numeric.Exp)), nil)
		bigInt.Mul(bigInt, factor)
	} else if numeric.Exp < 0 {
		return nil, fmt.Errorf("numeric value has a fractional part: %v", dbValue)
	}
	return bigInt, nil
}

func parseDecimal(s string) (*big.Int, error) {
	bigInt, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse %q as big.Int", s)
	}
	return bigInt, nil
}
