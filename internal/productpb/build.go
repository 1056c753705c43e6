package productpb

import (
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	// FilePath is the path of the products contract inside a descriptor pool.
	FilePath = "products.proto"
	// PackageName is the protobuf package of the products contract.
	PackageName protoreflect.FullName = "products.v1"
	// ServiceName is the unqualified name of the products service.
	ServiceName protoreflect.Name = "ProductService"
)

// buildFile assembles products.proto. Field numbers and names are the wire
// contract shared with existing ProductService servers and must not change.
func buildFile() (protoreflect.FileDescriptor, error) {
	b := &builder{
		file:     protobuilder.NewFile(FilePath),
		messages: make(map[protoreflect.Name]*protobuilder.MessageBuilder),
	}
	b.file.SetPackageName(PackageName)
	b.file.SetSyntax(protoreflect.Proto3)

	b.addMessage("ClientRequestType", "Asks for the product types offered by a vendor.",
		stringField("vendor", 1))
	b.addMessage("ClientResponseType", "Comma separated product types of a vendor.",
		stringField("productType", 1))
	b.addMessage("ClientRequestProducts", "",
		stringField("vendor", 1),
		stringField("productType", 2))
	b.addMessage("ProdsPrep", "A single product as listed by the service.",
		stringField("title", 1),
		stringField("url", 2),
		stringField("shortUrl", 3))
	b.addMessage("ClientResponseProducts", "",
		b.messageField("product", 1, "ProdsPrep"))
	b.addMessage("AdminClientRequestProducts", "",
		b.messageField("product", 1, "ProdsPrep"),
		stringField("vendor", 2),
		stringField("productType", 3))
	b.addMessage("ProductCount", "",
		scalarField("count", 1, protoreflect.Int32Kind))
	b.addMessage("ChatMessage", "",
		stringField("messageContent", 1))

	sb := protobuilder.NewService(ServiceName)
	b.addMethod(sb, methodGetVendorProductTypes, "ClientRequestType", false, "ClientResponseType", false)
	b.addMethod(sb, methodGetVendorProducts, "ClientRequestProducts", false, "ClientResponseProducts", true)
	b.addMethod(sb, methodSetVendorProducts, "AdminClientRequestProducts", true, "ProductCount", false)
	b.addMethod(sb, methodChatVendorSales, "ChatMessage", true, "ChatMessage", true)
	b.file.AddService(sb)

	return b.file.Build()
}

const (
	methodGetVendorProductTypes protoreflect.Name = "GetVendorProductTypes"
	methodGetVendorProducts     protoreflect.Name = "GetVendorProducts"
	methodSetVendorProducts     protoreflect.Name = "SetVendorProducts"
	methodChatVendorSales       protoreflect.Name = "ChatVendorSales"
)

type builder struct {
	file     *protobuilder.FileBuilder
	messages map[protoreflect.Name]*protobuilder.MessageBuilder
}

func (b *builder) addMessage(name protoreflect.Name, desc string, fields ...*protobuilder.FieldBuilder) {
	mb := protobuilder.NewMessage(name)
	mb.SetComments(comment(desc))
	for _, fb := range fields {
		mb.AddField(fb)
	}
	b.messages[name] = mb
	b.file.AddMessage(mb)
}

func (b *builder) messageField(name protoreflect.Name, number int32, typ protoreflect.Name) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, protobuilder.FieldTypeMessage(b.messages[typ]))
	fb.SetNumber(protoreflect.FieldNumber(number))
	return fb
}

func (b *builder) addMethod(sb *protobuilder.ServiceBuilder, name protoreflect.Name, in protoreflect.Name, inStream bool, out protoreflect.Name, outStream bool) {
	mb := protobuilder.NewMethod(name,
		protobuilder.RpcTypeMessage(b.messages[in], inStream),
		protobuilder.RpcTypeMessage(b.messages[out], outStream),
	)
	sb.AddMethod(mb)
}

func stringField(name protoreflect.Name, number int32) *protobuilder.FieldBuilder {
	return scalarField(name, number, protoreflect.StringKind)
}

func scalarField(name protoreflect.Name, number int32, kind protoreflect.Kind) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, protobuilder.FieldTypeScalar(kind))
	fb.SetNumber(protoreflect.FieldNumber(number))
	return fb
}

func comment(desc string) protobuilder.Comments {
	if desc == "" {
		return protobuilder.Comments{}
	}
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}
