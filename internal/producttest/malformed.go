package producttest

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// malformedDescriptor describes
//
//	message MalformedResponse { bytes productType = 1; }
//
// Field 1 has the wire type of ClientResponseType.productType but may carry
// bytes that are not valid UTF-8, which a proto3 string decoder rejects.
var malformedDescriptor = sync.OnceValues(func() (protoreflect.MessageDescriptor, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("producttest_malformed.proto"),
		Package: proto.String("producttest"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("MalformedResponse"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:     proto.String("productType"),
				JsonName: proto.String("productType"),
				Number:   proto.Int32(1),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_BYTES.Enum(),
			}},
		}},
		Syntax: proto.String("proto3"),
	}
	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		return nil, err
	}
	return fd.Messages().ByName("MalformedResponse"), nil
})

func malformedResponse() (*dynamicpb.Message, error) {
	md, err := malformedDescriptor()
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	msg.Set(md.Fields().ByName("productType"), protoreflect.ValueOfBytes([]byte{0xff, 0xfe, 0xfd}))
	return msg, nil
}
