// Package productpb exposes the products.v1 ProductService contract as
// runtime protobuf descriptors.
//
// The contract is assembled once with protobuilder instead of being generated
// by protoc, and messages are handled as dynamicpb values. Field names and
// numbers match the service definition that existing ProductService servers
// are compiled from, so the encoding on the wire is identical.
package productpb

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Service bundles the descriptors of the products contract.
type Service struct {
	File    protoreflect.FileDescriptor
	Service protoreflect.ServiceDescriptor

	GetVendorProductTypes protoreflect.MethodDescriptor
	GetVendorProducts     protoreflect.MethodDescriptor
	SetVendorProducts     protoreflect.MethodDescriptor
	ChatVendorSales       protoreflect.MethodDescriptor
}

// Product is the client side view of a ProdsPrep message.
type Product struct {
	Title    string
	URL      string
	ShortURL string
}

var load = sync.OnceValues(func() (*Service, error) {
	fd, err := buildFile()
	if err != nil {
		return nil, fmt.Errorf("productpb: build %s: %w", FilePath, err)
	}
	sd := fd.Services().ByName(ServiceName)
	if sd == nil {
		return nil, fmt.Errorf("productpb: service %s missing from %s", ServiceName, FilePath)
	}
	s := &Service{File: fd, Service: sd}
	for name, dst := range map[protoreflect.Name]*protoreflect.MethodDescriptor{
		methodGetVendorProductTypes: &s.GetVendorProductTypes,
		methodGetVendorProducts:     &s.GetVendorProducts,
		methodSetVendorProducts:     &s.SetVendorProducts,
		methodChatVendorSales:       &s.ChatVendorSales,
	} {
		md := sd.Methods().ByName(name)
		if md == nil {
			return nil, fmt.Errorf("productpb: method %s missing from %s", name, sd.FullName())
		}
		*dst = md
	}
	return s, nil
})

// Load returns the products contract. The descriptors are built on first use
// and shared afterwards; they are immutable.
func Load() (*Service, error) {
	return load()
}

// FullMethod returns the gRPC method path, e.g.
// "/products.v1.ProductService/GetVendorProductTypes".
func FullMethod(md protoreflect.MethodDescriptor) string {
	return fmt.Sprintf("/%s/%s", md.Parent().FullName(), md.Name())
}

// NewTypeRequest builds a ClientRequestType for vendor.
func (s *Service) NewTypeRequest(vendor string) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(s.GetVendorProductTypes.Input())
	setString(msg, "vendor", vendor)
	return msg
}

// NewProductsRequest builds a ClientRequestProducts for vendor and productType.
func (s *Service) NewProductsRequest(vendor, productType string) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(s.GetVendorProducts.Input())
	setString(msg, "vendor", vendor)
	setString(msg, "productType", productType)
	return msg
}

// NewTypeResponse builds a ClientResponseType carrying productType.
func (s *Service) NewTypeResponse(productType string) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(s.GetVendorProductTypes.Output())
	setString(msg, "productType", productType)
	return msg
}

// NewProductsResponse builds a ClientResponseProducts carrying p.
func (s *Service) NewProductsResponse(p Product) *dynamicpb.Message {
	out := s.GetVendorProducts.Output()
	msg := dynamicpb.NewMessage(out)
	fd := out.Fields().ByName("product")
	msg.Set(fd, protoreflect.ValueOfMessage(newProdsPrep(fd.Message(), p)))
	return msg
}

func newProdsPrep(md protoreflect.MessageDescriptor, p Product) *dynamicpb.Message {
	prod := dynamicpb.NewMessage(md)
	setString(prod, "title", p.Title)
	setString(prod, "url", p.URL)
	setString(prod, "shortUrl", p.ShortURL)
	return prod
}

// NewAdminProductsRequest builds an AdminClientRequestProducts uploading p
// under vendor and productType.
func (s *Service) NewAdminProductsRequest(vendor, productType string, p Product) *dynamicpb.Message {
	in := s.SetVendorProducts.Input()
	msg := dynamicpb.NewMessage(in)
	fd := in.Fields().ByName("product")
	msg.Set(fd, protoreflect.ValueOfMessage(newProdsPrep(fd.Message(), p)))
	setString(msg, "vendor", vendor)
	setString(msg, "productType", productType)
	return msg
}

// NewProductCount builds the ProductCount reply of SetVendorProducts.
func (s *Service) NewProductCount(n int32) *dynamicpb.Message {
	out := s.SetVendorProducts.Output()
	msg := dynamicpb.NewMessage(out)
	msg.Set(out.Fields().ByName("count"), protoreflect.ValueOfInt32(n))
	return msg
}

// Count reads the count field of a ProductCount message. It returns 0 when
// msg is nil or has no such field.
func Count(msg protoreflect.Message) int32 {
	if msg == nil {
		return 0
	}
	fd := msg.Descriptor().Fields().ByName("count")
	if fd == nil || fd.Kind() != protoreflect.Int32Kind {
		return 0
	}
	return int32(msg.Get(fd).Int())
}

// Vendor reads the vendor field of a ClientRequestType or
// ClientRequestProducts message.
func Vendor(msg protoreflect.Message) string {
	return getString(msg, "vendor")
}

// ProductType reads the productType field of msg. It returns "" when msg is
// nil or has no such field.
func ProductType(msg protoreflect.Message) string {
	return getString(msg, "productType")
}

// ProductOf extracts the product carried by a ClientResponseProducts or
// AdminClientRequestProducts message.
func ProductOf(msg protoreflect.Message) Product {
	if msg == nil {
		return Product{}
	}
	fd := msg.Descriptor().Fields().ByName("product")
	if fd == nil || fd.Message() == nil || !msg.Has(fd) {
		return Product{}
	}
	prod := msg.Get(fd).Message()
	return Product{
		Title:    getString(prod, "title"),
		URL:      getString(prod, "url"),
		ShortURL: getString(prod, "shortUrl"),
	}
}

func setString(msg protoreflect.Message, name protoreflect.Name, v string) {
	msg.Set(msg.Descriptor().Fields().ByName(name), protoreflect.ValueOfString(v))
}

func getString(msg protoreflect.Message, name protoreflect.Name) string {
	if msg == nil {
		return ""
	}
	fd := msg.Descriptor().Fields().ByName(name)
	if fd == nil || fd.Kind() != protoreflect.StringKind {
		return ""
	}
	return msg.Get(fd).String()
}
