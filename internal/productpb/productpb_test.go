package productpb_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/bharat-rajani/grpc-products/internal/productpb"
)

func TestLoadServiceShape(t *testing.T) {
	s, err := productpb.Load()
	require.NoError(t, err)

	assert.Equal(t, protoreflect.FullName("products.v1.ProductService"), s.Service.FullName())
	assert.Equal(t, 4, s.Service.Methods().Len())

	tests := []struct {
		md           protoreflect.MethodDescriptor
		fullMethod   string
		input        protoreflect.FullName
		output       protoreflect.FullName
		clientStream bool
		serverStream bool
	}{
		{s.GetVendorProductTypes, "/products.v1.ProductService/GetVendorProductTypes", "products.v1.ClientRequestType", "products.v1.ClientResponseType", false, false},
		{s.GetVendorProducts, "/products.v1.ProductService/GetVendorProducts", "products.v1.ClientRequestProducts", "products.v1.ClientResponseProducts", false, true},
		{s.SetVendorProducts, "/products.v1.ProductService/SetVendorProducts", "products.v1.AdminClientRequestProducts", "products.v1.ProductCount", true, false},
		{s.ChatVendorSales, "/products.v1.ProductService/ChatVendorSales", "products.v1.ChatMessage", "products.v1.ChatMessage", true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.md.Name()), func(t *testing.T) {
			assert.Equal(t, tt.fullMethod, productpb.FullMethod(tt.md))
			assert.Equal(t, tt.input, tt.md.Input().FullName())
			assert.Equal(t, tt.output, tt.md.Output().FullName())
			assert.Equal(t, tt.clientStream, tt.md.IsStreamingClient())
			assert.Equal(t, tt.serverStream, tt.md.IsStreamingServer())
		})
	}
}

func TestLoadIsShared(t *testing.T) {
	a, err := productpb.Load()
	require.NoError(t, err)
	b, err := productpb.Load()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFieldNumbers(t *testing.T) {
	s, err := productpb.Load()
	require.NoError(t, err)

	want := map[protoreflect.FullName]map[protoreflect.Name]protoreflect.FieldNumber{
		"products.v1.ClientRequestType":          {"vendor": 1},
		"products.v1.ClientResponseType":         {"productType": 1},
		"products.v1.ClientRequestProducts":      {"vendor": 1, "productType": 2},
		"products.v1.ClientResponseProducts":     {"product": 1},
		"products.v1.ProdsPrep":                  {"title": 1, "url": 2, "shortUrl": 3},
		"products.v1.AdminClientRequestProducts": {"product": 1, "vendor": 2, "productType": 3},
		"products.v1.ProductCount":               {"count": 1},
		"products.v1.ChatMessage":                {"messageContent": 1},
	}
	msgs := s.File.Messages()
	require.Equal(t, len(want), msgs.Len())
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		fields, ok := want[md.FullName()]
		require.True(t, ok, "unexpected message %s", md.FullName())
		got := map[protoreflect.Name]protoreflect.FieldNumber{}
		for j := 0; j < md.Fields().Len(); j++ {
			fd := md.Fields().Get(j)
			got[fd.Name()] = fd.Number()
		}
		if diff := cmp.Diff(fields, got); diff != "" {
			t.Errorf("%s fields (-want +got):\n%s", md.FullName(), diff)
		}
	}
}

func TestTypeRequestWireEncoding(t *testing.T) {
	s, err := productpb.Load()
	require.NoError(t, err)

	b, err := proto.Marshal(s.NewTypeRequest("google"))
	require.NoError(t, err)
	// field 1, length delimited, "google"
	assert.Equal(t, []byte{0x0a, 0x06, 'g', 'o', 'o', 'g', 'l', 'e'}, b)

	resp := dynamicpb.NewMessage(s.GetVendorProductTypes.Output())
	require.NoError(t, proto.Unmarshal([]byte{0x0a, 0x01, 'X'}, resp))
	assert.Equal(t, "X", productpb.ProductType(resp))
}

func TestAccessors(t *testing.T) {
	s, err := productpb.Load()
	require.NoError(t, err)

	req := s.NewProductsRequest("oracle", "storage")
	assert.Equal(t, "oracle", productpb.Vendor(req))
	assert.Equal(t, "storage", productpb.ProductType(req))

	assert.Equal(t, "compute", productpb.ProductType(s.NewTypeResponse("compute")))
	assert.Equal(t, "", productpb.ProductType(nil))

	want := productpb.Product{Title: "Filestore", URL: "sampleUrl", ShortURL: "https://made-up-url.com/abc123"}
	assert.Equal(t, want, productpb.ProductOf(s.NewProductsResponse(want)))

	empty := dynamicpb.NewMessage(s.GetVendorProducts.Output())
	assert.Equal(t, productpb.Product{}, productpb.ProductOf(empty))
	assert.Equal(t, productpb.Product{}, productpb.ProductOf(s.NewTypeRequest("google")))
}

func TestAdminAccessors(t *testing.T) {
	s, err := productpb.Load()
	require.NoError(t, err)

	p := productpb.Product{Title: "Filestore", URL: "sample Url", ShortURL: "https://made-up-url.com/abc123"}
	req := s.NewAdminProductsRequest("google", "storage", p)
	assert.Equal(t, "google", productpb.Vendor(req))
	assert.Equal(t, "storage", productpb.ProductType(req))
	assert.Equal(t, p, productpb.ProductOf(req))

	count := s.NewProductCount(5)
	b, err := proto.Marshal(count)
	require.NoError(t, err)
	// field 1, varint, 5
	assert.Equal(t, []byte{0x08, 0x05}, b)
	assert.Equal(t, int32(5), productpb.Count(count))

	assert.Equal(t, int32(0), productpb.Count(nil))
	assert.Equal(t, int32(0), productpb.Count(s.NewTypeRequest("google")))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, productpb.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "package products.v1;")
	assert.Contains(t, out, "service ProductService")
	assert.Contains(t, out, "GetVendorProductTypes")
	assert.Contains(t, out, "message ProdsPrep")
}

func TestRenderDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proto")
	fp, err := productpb.RenderDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "products.proto"), fp)

	b, err := os.ReadFile(fp)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, productpb.Render(&buf))
	if diff := cmp.Diff(buf.String(), string(b)); diff != "" {
		t.Errorf("rendered file mismatch (-want +got):\n%s", diff)
	}
}
