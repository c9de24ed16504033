package emit

import (
	"errors"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/naming"
)

var scalarTypes = map[ir.Scalar]descriptorpb.FieldDescriptorProto_Type{
	ir.String: descriptorpb.FieldDescriptorProto_TYPE_STRING,
	ir.Int32:  descriptorpb.FieldDescriptorProto_TYPE_INT32,
	ir.Int64:  descriptorpb.FieldDescriptorProto_TYPE_INT64,
	ir.Double: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
	ir.Bool:   descriptorpb.FieldDescriptorProto_TYPE_BOOL,
}

// Descriptors builds a FileDescriptorProto per non-empty namespace and links
// them, together with google/protobuf/struct.proto, into a registry. The
// returned set lists dependencies before dependents and is self-contained.
func Descriptors(set *ir.ModuleSet, opts Options) (*descriptorpb.FileDescriptorSet, *protoregistry.Files, error) {
	l, err := plan(set, opts)
	if err != nil {
		return nil, nil, err
	}
	fds := &descriptorpb.FileDescriptorSet{}
	for _, f := range l.files {
		if f.structs {
			fds.File = append(fds.File, protodesc.ToFileDescriptorProto(structpb.File_google_protobuf_struct_proto))
			break
		}
	}
	for _, f := range l.files {
		fd, err := l.descriptor(f)
		if err != nil {
			return nil, nil, err
		}
		fds.File = append(fds.File, fd)
	}
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, nil, diag.Wrap(diag.CodeEmissionError, err, "generated files do not link")
	}
	return fds, files, nil
}

func (l *layout) descriptor(f *fileLayout) (*descriptorpb.FileDescriptorProto, error) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(f.path),
		Package:    proto.String(f.pkg),
		Dependency: f.imports,
		Syntax:     proto.String("proto3"),
	}
	if opts := l.fileOptions(f); len(opts) > 0 {
		fo := &descriptorpb.FileOptions{}
		for _, o := range opts {
			if err := setOption(fo.ProtoReflect(), o[0], o[1]); err != nil {
				return nil, emissionError(f.ns, "", "file option %s: %v", o[0], err)
			}
		}
		fd.Options = fo
	}
	for _, e := range f.mod.Enums() {
		ed := &descriptorpb.EnumDescriptorProto{Name: proto.String(e.Name)}
		for i, v := range e.Values {
			ed.Value = append(ed.Value, &descriptorpb.EnumValueDescriptorProto{
				Name:   proto.String(f.values[e][i]),
				Number: proto.Int32(int32(v.Number)),
			})
		}
		fd.EnumType = append(fd.EnumType, ed)
	}
	for _, m := range f.mod.Messages() {
		fd.MessageType = append(fd.MessageType, l.message(f, m))
	}
	if svc := f.mod.Service; svc != nil && len(svc.Methods) > 0 {
		sd := &descriptorpb.ServiceDescriptorProto{Name: proto.String(svc.Name)}
		for _, rpc := range svc.Methods {
			md := &descriptorpb.MethodDescriptorProto{
				Name:       proto.String(rpc.Name),
				InputType:  proto.String(l.typeName(f, rpc.Request, true)),
				OutputType: proto.String(l.typeName(f, rpc.Response, true)),
			}
			if rpc.ServerStreaming {
				md.ServerStreaming = proto.Bool(true)
			}
			if rpc.Deprecated {
				md.Options = &descriptorpb.MethodOptions{Deprecated: proto.Bool(true)}
			}
			sd.Method = append(sd.Method, md)
		}
		fd.Service = append(fd.Service, sd)
	}
	return fd, nil
}

// message mirrors the text form. Proto3 optional fields get a synthetic
// oneof each, placed after the real ones; maps get a nested entry type.
func (l *layout) message(f *fileLayout, m *ir.Message) *descriptorpb.DescriptorProto {
	md := &descriptorpb.DescriptorProto{Name: proto.String(m.Name)}
	oneofIndex := map[string]int32{}
	for _, g := range m.Oneofs {
		oneofIndex[g.Name] = int32(len(md.OneofDecl))
		md.OneofDecl = append(md.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(g.Name)})
	}
	for _, fld := range m.Fields {
		fp := &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(fld.Name),
			Number:   proto.Int32(int32(fld.Number)),
			JsonName: proto.String(fld.JSONName),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}
		if fld.Repeated {
			fp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
		}
		if fld.Type.IsMap() {
			entry := l.mapEntry(f, fld)
			md.NestedType = append(md.NestedType, entry)
			fp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fp.TypeName = proto.String(l.typeName(f, ir.Key{Namespace: f.ns, Name: m.Name}, true) + "." + entry.GetName())
		} else {
			l.setType(f, fp, fld.Type)
		}
		if fld.Oneof != "" {
			fp.OneofIndex = proto.Int32(oneofIndex[fld.Oneof])
		}
		md.Field = append(md.Field, fp)
	}
	for i, fld := range m.Fields {
		if !fld.Optional || fld.Oneof != "" || fld.Repeated || fld.Type.IsMap() {
			continue
		}
		md.Field[i].OneofIndex = proto.Int32(int32(len(md.OneofDecl)))
		md.Field[i].Proto3Optional = proto.Bool(true)
		md.OneofDecl = append(md.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(syntheticOneof(m, fld.Name))})
	}
	return md
}

// syntheticOneof follows protoc: _name, with X prepended until it is free.
func syntheticOneof(m *ir.Message, field string) string {
	name := "_" + field
	for {
		clash := m.Field(name) != nil || m.Oneof(name) != nil
		if !clash {
			return name
		}
		name = "X" + name
	}
}

func (l *layout) mapEntry(f *fileLayout, fld *ir.Field) *descriptorpb.DescriptorProto {
	key := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String("key"),
		Number:   proto.Int32(1),
		JsonName: proto.String("key"),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
	value := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String("value"),
		Number:   proto.Int32(2),
		JsonName: proto.String("value"),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
	l.setType(f, value, *fld.Type.MapValue)
	return &descriptorpb.DescriptorProto{
		Name:    proto.String(naming.MapEntryName(fld.Name)),
		Field:   []*descriptorpb.FieldDescriptorProto{key, value},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}
}

func (l *layout) setType(f *fileLayout, fp *descriptorpb.FieldDescriptorProto, t ir.TypeRef) {
	switch t.Kind() {
	case ir.RefNamed:
		fp.TypeName = proto.String(l.typeName(f, t.Named, true))
		fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		if d, _ := l.set.Resolve(t.Named); d != nil {
			if _, isEnum := d.(*ir.Enum); isEnum {
				fp.Type = descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum()
			}
		}
	case ir.RefWellKnown:
		fp.TypeName = proto.String("." + t.WellKnown)
		fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
	default:
		fp.Type = scalarTypes[t.Scalar].Enum()
	}
}

// setOption assigns a scalar FileOptions field by its proto name.
func setOption(m protoreflect.Message, name, value string) error {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || fd.Cardinality() == protoreflect.Repeated {
		return errUnknownOption
	}
	switch fd.Kind() {
	case protoreflect.StringKind:
		m.Set(fd, protoreflect.ValueOfString(value))
	case protoreflect.BoolKind:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		m.Set(fd, protoreflect.ValueOfBool(b))
	case protoreflect.EnumKind:
		ev := fd.Enum().Values().ByName(protoreflect.Name(value))
		if ev == nil {
			return errUnknownOption
		}
		m.Set(fd, protoreflect.ValueOfEnum(ev.Number()))
	default:
		return errUnknownOption
	}
	return nil
}

var errUnknownOption = errors.New("not a scalar FileOptions field")
