package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/hotspot-billing/internal/models"
)

func TestRender(t *testing.T) {
	msg := Render("Thank you for purchasing {package} KSH {amount}. Username: {username} Password: {password}. Voucher code: {voucher} ({duration}) {unknown}", Vars{
		Package:  "1 Hour",
		Amount:   "20",
		Username: "u1",
		Password: "p1",
		Voucher:  "V-001",
		Duration: "1 hour",
	})
	assert.Equal(t, "Thank you for purchasing 1 Hour KSH 20. Username: u1 Password: p1. Voucher code: V-001 (1 hour) {unknown}", msg)
}

func TestTextSMS_Send(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		got = r.PostForm
		if got.Get("apikey") != "k" {
			w.Write([]byte(`{"responses":[{"respose-code":1004,"response-description":"Invalid API key"}]}`))
			return
		}
		w.Write([]byte(`{"responses":[{"respose-code":200,"response-description":"Success","mobile":254712345678,"messageid":8290842,"networkid":"1"}]}`))
	}))
	defer srv.Close()

	s := NewTextSMS(Settings{Provider: models.SmsProviderTextSMS, APIKey: "k", PartnerID: "13361", SenderID: "TextSMS"}, srv.Client()).WithEndpoint(srv.URL)
	res, err := s.Send(context.Background(), "254712345678", "hello")
	require.NoError(t, err)
	assert.Equal(t, "8290842", res.MessageID)
	assert.Equal(t, "13361", got.Get("partnerID"))
	assert.Equal(t, "254712345678", got.Get("mobile"))

	bad := NewTextSMS(Settings{APIKey: "x", PartnerID: "1"}, srv.Client()).WithEndpoint(srv.URL)
	_, err = bad.Send(context.Background(), "254712345678", "hello")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, "Invalid API key", sendErr.Message)
}

func TestAfricasTalking_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		assert.Equal(t, "secret", r.Header.Get("apiKey"))
		assert.Equal(t, "+254712345678", r.PostForm.Get("to"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1","Recipients":[{"statusCode":101,"number":"+254712345678","status":"Success","cost":"KES 0.8000","messageId":"ATXid_1"}]}}`))
	}))
	defer srv.Close()

	s := NewAfricasTalking(Settings{Username: "sandbox", APIKey: "secret"}, srv.Client()).WithEndpoint(srv.URL)
	res, err := s.Send(context.Background(), "254712345678", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ATXid_1", res.MessageID)
}

func TestHostPinnacle_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("password") != "pw" {
			w.Write([]byte(`{"status":"error","statusCode":"102","reason":"Invalid credentials"}`))
			return
		}
		assert.Equal(t, "quick", q.Get("sendMethod"))
		w.Write([]byte(`{"status":"success","statusCode":"200","reason":"success","transactionId":"tx-9"}`))
	}))
	defer srv.Close()

	s := NewHostPinnacle(Settings{Username: "u", Password: "pw", SenderID: "HOTSPOT"}, srv.Client()).WithEndpoint(srv.URL)
	res, err := s.Send(context.Background(), "254712345678", "hello")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", res.MessageID)

	bad := NewHostPinnacle(Settings{Username: "u", Password: "nope"}, srv.Client()).WithEndpoint(srv.URL)
	_, err = bad.Send(context.Background(), "254712345678", "hello")
	assert.Error(t, err)
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) PublishWithContext(_ aws.Context, input *sns.PublishInput, _ ...request.Option) (*sns.PublishOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNS_Send(t *testing.T) {
	fake := &fakeSNS{}
	s := NewSNS(fake, "HOTSPOT")

	res, err := s.Send(context.Background(), "254712345678", "hello")
	require.NoError(t, err)
	assert.Equal(t, "sns-1", res.MessageID)
	assert.Equal(t, "+254712345678", aws.StringValue(fake.input.PhoneNumber))
	assert.Equal(t, "HOTSPOT", aws.StringValue(fake.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))

	fake.err = errors.New("throttled")
	_, err = s.Send(context.Background(), "254712345678", "hello")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	_, err := New(Settings{Provider: models.SmsProviderTextSMS}, http.DefaultClient, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(Settings{Provider: "carrier-pigeon"}, http.DefaultClient, nil)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	s, err := New(Settings{Provider: models.SmsProviderSNS}, http.DefaultClient, &fakeSNS{})
	require.NoError(t, err)
	assert.Equal(t, models.SmsProviderSNS, s.Provider())
}
