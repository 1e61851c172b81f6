package routerd

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/codec"
	"github.com/omnihop/router/pkg/common"
	"github.com/omnihop/router/pkg/db"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/registry"
	"github.com/omnihop/router/pkg/router"
	"github.com/omnihop/router/pkg/types"
)

var (
	testAdmin    = types.Account{31: 0xad}
	testEndpoint = types.Account{31: 0xe0}
	testCustody  = types.Account{31: 0xcc}
)

type apiFixture struct {
	collaborators *collaboratorSet
	handler       http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	collaborators := buildDevnetCollaborators(logger, big.NewInt(100))
	reg := registry.New()

	rtr := router.New(logger, router.Config{
		ChainID:       types.ChainID(30),
		Custody:       testCustody,
		Endpoint:      testEndpoint,
		Admin:         testAdmin,
		WrappedNative: devnetWrappedNativeAddr,
		Payout:        collaborators.payout,
		Registry:      reg,
		DB:            db.NewMockRouterDB(),
		Native:        collaborators.bank,
		Emitter:       events.NewLogEmitter(logger),
	})

	conv, ok := collaborators.converter(devnetConverterAddr)
	require.True(t, ok)
	adapter, ok := collaborators.adapter(devnetAdapterAddr)
	require.True(t, ok)
	require.NoError(t, rtr.RegisterRoute(testAdmin, devnetSourceAssetAddr, conv, adapter))

	api := newAPIServer(logger, rtr, collaborators, testEndpoint, common.UnsafeDevNet)
	return &apiFixture{
		collaborators: collaborators,
		handler:       api.handler(),
	}
}

func (f *apiFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPIQuote(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/v1/quote?sourceAsset="+devnetSourceAssetAddr.Hex()+
		"&amount=1000&dstChain=110&recipient=0x42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100", decodeBody(t, rec)["fee"])

	rec = f.get(t, "/v1/quote?sourceAsset=0xdead&amount=1000&dstChain=110&recipient=0x42")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIWrapAndBridge(t *testing.T) {
	f := newAPIFixture(t)

	user := types.Account{31: 0x01}
	f.collaborators.bank.Mint(devnetSourceAssetAddr, user, big.NewInt(1000))
	f.collaborators.bank.MintNative(user, big.NewInt(500))

	rec := f.post(t, "/v1/wrap_and_bridge", wrapAndBridgeRequest{
		Caller:      user.String(),
		SourceAsset: devnetSourceAssetAddr.Hex(),
		Amount:      "1000",
		DstChain:    110,
		Recipient:   types.Account{31: 0x42}.String(),
		FeeBudget:   "500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1000000000000000", decodeBody(t, rec)["shares"])
	assert.Equal(t, big.NewInt(400), f.collaborators.bank.NativeBalanceOf(user))
}

func TestAPIWrapAndBridgeRejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post(t, "/v1/wrap_and_bridge", wrapAndBridgeRequest{
		Caller:      types.Account{31: 0x01}.String(),
		SourceAsset: devnetSourceAssetAddr.Hex(),
		Amount:      "0",
		DstChain:    110,
		Recipient:   types.Account{31: 0x42}.String(),
		FeeBudget:   "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/v1/wrap_and_bridge", wrapAndBridgeRequest{
		Caller:      types.Account{31: 0x01}.String(),
		SourceAsset: "0xdead",
		Amount:      "10",
		DstChain:    110,
		Recipient:   types.Account{31: 0x42}.String(),
		FeeBudget:   "100",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPICompose(t *testing.T) {
	f := newAPIFixture(t)

	// Transport collateral: the source asset and fee are credited to custody
	// before the compose message is delivered.
	f.collaborators.bank.Mint(devnetSourceAssetAddr, testCustody, big.NewInt(1000))
	f.collaborators.bank.MintNative(testCustody, big.NewInt(200))

	fwd := &codec.ForwardMessage{
		FinalChainID:   types.ChainID(110),
		FinalRecipient: types.Account{31: 0x42},
		RefundAccount:  ethCommon.HexToAddress("0x00000000000000000000000000000000000000ef"),
	}
	raw := codec.EncodeCompose(1, types.ChainID(110), big.NewInt(1000), types.Account{31: 0x05}, fwd.Encode())

	id := types.GUID{31: 0xaa}
	req := composeRequest{
		OApp:      devnetSourceAssetAddr.Hex(),
		ID:        id.String(),
		Payload:   hexutil.Encode(raw),
		FeeBudget: "200",
	}

	// Caller omitted: the dev environment defaults to the endpoint.
	rec := f.post(t, "/v1/compose", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "handled", decodeBody(t, rec)["status"])

	// Replays are accepted and silently dropped.
	rec = f.post(t, "/v1/compose", req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// An explicit non-endpoint caller is rejected.
	req.Caller = types.Account{31: 0x99}.String()
	req.ID = types.GUID{31: 0xab}.String()
	rec = f.post(t, "/v1/compose", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown oapp has no route.
	req.Caller = ""
	req.OApp = "0xdead"
	rec = f.post(t, "/v1/compose", req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIRegisterRoute(t *testing.T) {
	f := newAPIFixture(t)

	req := registerRouteRequest{
		Caller:           testAdmin.String(),
		SourceAsset:      "0x00000000000000000000000000000000000000b2",
		Converter:        devnetConverterAddr.Hex(),
		TransportAdapter: devnetAdapterAddr.Hex(),
	}
	rec := f.post(t, "/v1/admin/routes", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req.Caller = types.Account{31: 0x99}.String()
	rec = f.post(t, "/v1/admin/routes", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Caller = testAdmin.String()
	req.Converter = "0xdead"
	rec = f.post(t, "/v1/admin/routes", req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIDevnetMint(t *testing.T) {
	f := newAPIFixture(t)

	user := types.Account{31: 0x01}
	rec := f.post(t, "/v1/devnet/mint", devnetMintRequest{
		Token:   "native",
		Account: user.String(),
		Amount:  "777",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, big.NewInt(777), f.collaborators.bank.NativeBalanceOf(user))

	rec = f.post(t, "/v1/devnet/mint", devnetMintRequest{
		Token:   "native",
		Account: user.String(),
		Amount:  "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
