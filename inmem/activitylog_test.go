package inmem

import (
	"context"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestActivityStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	owner := common.HexToAddress("0x627306090abaB3A6e1400e9345bC60c78a8BEf57")

	s := NewActivityStore()
	{
		logs, err := s.ByOwner(ctx, owner, -1, 10)
		if assert.NoError(err) {
			assert.Equal(0, len(logs))
		}
	}

	err := s.AddLog(ctx, owner, nametag.Activity{Name: "gdzie_ta_muza", Data: map[string]interface{}{"service": "sc"}})
	if !assert.NoError(err) {
		return
	}
	err = s.AddLog(ctx, owner, nametag.Activity{Name: nametag.ActivitySessionCreated})
	if !assert.NoError(err) {
		return
	}

	{
		logs, err := s.ByOwner(ctx, owner, -1, 10)
		if !assert.NoError(err) {
			return
		}
		if !assert.Equal(2, len(logs)) {
			return
		}
		assert.Equal(nametag.ActivitySessionCreated, logs[0].Name)
		assert.Equal(owner, logs[0].Owner)
		log := logs[1]
		assert.Equal("gdzie_ta_muza", log.Name)
		assert.Equal(map[string]interface{}{"service": "sc"}, log.Data)

		older, err := s.ByOwner(ctx, owner, logs[0].Id, 10)
		if assert.NoError(err) && assert.Equal(1, len(older)) {
			assert.Equal(log, older[0])
		}

		limited, err := s.ByOwner(ctx, owner, -1, 1)
		if assert.NoError(err) {
			assert.Equal(logs[:1], limited)
		}
	}

	{
		// unknown owner
		logs, err := s.ByOwner(ctx, common.HexToAddress("0x01"), -1, 10)
		if assert.NoError(err) {
			assert.Equal(0, len(logs))
		}
	}
}

func TestActivityStoreKeepsOwnCopyOfData(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	owner := common.HexToAddress("0x627306090abaB3A6e1400e9345bC60c78a8BEf57")
	s := NewActivityStore()

	data := map[string]interface{}{"ip": "10.0.0.1"}
	if !assert.NoError(s.AddLog(ctx, owner, nametag.Activity{Name: nametag.ActivitySessionCreated, Data: data})) {
		return
	}
	data["ip"] = "10.6.6.6"
	data["injected"] = true

	logs, err := s.ByOwner(ctx, owner, -1, 10)
	if assert.NoError(err) && assert.Equal(1, len(logs)) {
		assert.Equal(map[string]interface{}{"ip": "10.0.0.1"}, logs[0].Data)
	}
}
