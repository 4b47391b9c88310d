package valkey

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/habuha/captcha/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	mr := miniredis.RunT(t)

	data, err := json.Marshal(Config{
		URL: fmt.Sprintf("redis://%s/0", mr.Addr()),
	})
	if err != nil {
		t.Fatal(err)
	}

	storetest.CommonWithAdvance(t, Factory{}, json.RawMessage(data), mr.FastForward)
}
