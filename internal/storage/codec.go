package storage

import (
	"github.com/fxamacker/cbor/v2"
)

// детерминированное кодирование: одно и то же устройство даёт одни и те же байты
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: cbor encoder init: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
